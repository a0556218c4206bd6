package main

import (
	"flag"
	"log/slog"
	"os"

	"passgate/internal/validation"
)

func main() {
	var (
		baseURL string
		tokens  validation.Tokens
	)
	flag.StringVar(&baseURL, "url", "http://localhost:8081", "Base URL for API validation")
	flag.StringVar(&tokens.Issuer, "issuer-token", os.Getenv("SMOKE_ISSUER_TOKEN"), "Bearer token with ISSUER role")
	flag.StringVar(&tokens.Operator, "operator-token", os.Getenv("SMOKE_OPERATOR_TOKEN"), "Bearer token with OPERATOR role")
	flag.StringVar(&tokens.Customer, "customer-token", os.Getenv("SMOKE_CUSTOMER_TOKEN"), "Bearer token of a customer")
	flag.StringVar(&tokens.CustomerID, "customer-id", os.Getenv("SMOKE_CUSTOMER_ID"), "User id inside the customer token")
	flag.Parse()

	slog.Info("Starting API validation", "url", baseURL)

	validator := validation.NewSmokeValidator(baseURL, tokens)
	if err := validator.ValidateAll(); err != nil {
		slog.Error("Валидация не пройдена", "error", err)
		os.Exit(1)
	}

	slog.Info("Валидация успешно пройдена!")
}
