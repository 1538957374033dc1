package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/cargoflow/backoffice/internal/domain/reconciliation"
	"github.com/cargoflow/backoffice/internal/domain/shared/valueobject"
	"github.com/cargoflow/backoffice/internal/infrastructure/config"
	"github.com/cargoflow/backoffice/internal/infrastructure/gateway"
	"github.com/cargoflow/backoffice/internal/infrastructure/logger"
)

func main() {
	var (
		baseURL    string
		salesTotal string
		logLevel   string
	)

	flag.StringVar(&baseURL, "base-url", "", "API base URL (default: from config)")
	flag.StringVar(&salesTotal, "sales-total", "0", "Sales invoice grand total, used as the margin base")
	flag.StringVar(&logLevel, "log-level", "warn", "Log level (debug, info, warn, error)")
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		printUsage()
		os.Exit(1)
	}
	command := args[0]

	log, err := logger.New(&logger.Config{
		Level:      logLevel,
		Format:     "console",
		Output:     "stderr",
		TimeFormat: "2006-01-02 15:04:05",
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = logger.Sync(log)
	}()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal("Failed to load configuration", zap.Error(err))
	}
	if baseURL == "" {
		baseURL = cfg.API.BaseURL
	}

	salesInvoiceID, err := uuid.Parse(args[1])
	if err != nil {
		log.Fatal("Invalid sales invoice id", zap.String("value", args[1]))
	}
	total, err := valueobject.NewMoneyCRCFromString(salesTotal)
	if err != nil {
		log.Fatal("Invalid sales total", zap.String("value", salesTotal))
	}

	client := gateway.NewClient(gateway.Config{
		BaseURL:     baseURL,
		Timeout:     cfg.API.Timeout,
		BearerToken: cfg.API.BearerToken,
	}, log)
	ledger := reconciliation.NewLedger(salesInvoiceID, total, client, log)

	ctx := context.Background()
	if err := ledger.Refresh(ctx); err != nil {
		log.Fatal("Failed to load invoice state", zap.Error(err))
	}

	switch command {
	case "mappings":
		printMappings(ledger)

	case "available":
		printAvailable(ledger)

	case "add-cost":
		if len(args) < 4 {
			log.Fatal("Usage: backoffice add-cost <sales-invoice-id> <cost-invoice-id> <amount> [notes]")
		}
		costInvoiceID, err := uuid.Parse(args[2])
		if err != nil {
			log.Fatal("Invalid cost invoice id", zap.String("value", args[2]))
		}
		amount, err := valueobject.NewMoneyCRCFromString(args[3])
		if err != nil {
			log.Fatal("Invalid amount", zap.String("value", args[3]))
		}
		notes := ""
		if len(args) > 4 {
			notes = args[4]
		}

		if err := ledger.Select(costInvoiceID, amount, notes); err != nil {
			log.Fatal("Selection rejected", zap.Error(err))
		}
		report, err := ledger.CommitSelections(ctx)
		if err != nil {
			log.Fatal("Commit failed", zap.Error(err))
		}
		for _, item := range report.Committed {
			fmt.Printf("assigned %s to %s (mapping %s)\n",
				item.Mapping.AssignedAmount.StringFixed(2),
				item.Mapping.CostInvoiceNumber,
				item.Mapping.ID,
			)
		}
		for _, item := range report.Failed {
			fmt.Printf("FAILED %s %s: %v\n",
				item.Selection.CostInvoiceID,
				item.Selection.Amount.StringFixed(2),
				item.Err,
			)
		}
		printMargin(report.Margin)
		if len(report.Failed) > 0 {
			os.Exit(1)
		}

	case "remove-cost":
		if len(args) < 3 {
			log.Fatal("Usage: backoffice remove-cost <sales-invoice-id> <mapping-id>")
		}
		mappingID, err := uuid.Parse(args[2])
		if err != nil {
			log.Fatal("Invalid mapping id", zap.String("value", args[2]))
		}

		mapping, err := ledger.RequestRemoval(mappingID)
		if err != nil {
			log.Fatal("Removal rejected", zap.Error(err))
		}
		fmt.Printf("removing %s (%s) from %s\n",
			mapping.AssignedAmount.StringFixed(2),
			mapping.CostInvoiceNumber,
			salesInvoiceID,
		)
		result, err := ledger.ConfirmRemoval(ctx)
		if err != nil {
			log.Fatal("Removal failed", zap.Error(err))
		}
		printMargin(result.Margin)

	default:
		log.Error("Unknown command", zap.String("command", command))
		printUsage()
		os.Exit(1)
	}
}

func printMappings(ledger *reconciliation.Ledger) {
	mappings := ledger.Mappings()
	if len(mappings) == 0 {
		fmt.Println("no cost mappings")
	}
	for _, m := range mappings {
		fmt.Printf("%s  %-16s %-24s %-20s %12s  %s\n",
			m.ID,
			m.CostInvoiceNumber,
			m.SupplierName,
			m.CostTypeDisplay,
			m.AssignedAmount.StringFixed(2),
			m.Notes,
		)
	}
	printMargin(ledger.Margin())
}

func printAvailable(ledger *reconciliation.Ledger) {
	available := ledger.AvailableCosts()
	if len(available) == 0 {
		fmt.Println("no available cost invoices")
		return
	}
	for _, inv := range available {
		fmt.Printf("%s  %-16s %-24s %-20s %12s of %s\n",
			inv.ID,
			inv.InvoiceNumber,
			inv.SupplierName,
			inv.CostTypeDisplay,
			inv.AvailableAmount.StringFixed(2),
			inv.ApplicableAmount.StringFixed(2),
		)
	}
}

func printMargin(m reconciliation.MarginSnapshot) {
	fmt.Printf("assigned costs: %s  gross margin: %s  margin %%: %s\n",
		m.TotalAssignedCosts.StringFixed(2),
		m.GrossMargin.StringFixed(2),
		m.MarginPercent.StringFixed(2),
	)
}

func printUsage() {
	fmt.Println(`Cost Reconciliation CLI

Usage:
  backoffice [flags] <command> <sales-invoice-id> [arguments]

Commands:
  mappings <sales-invoice-id>                              Show current cost mappings and margin
  available <sales-invoice-id>                             List cost invoices with remaining amount
  add-cost <sales-invoice-id> <cost-invoice-id> <amount>   Assign an amount from a cost invoice
  remove-cost <sales-invoice-id> <mapping-id>              Remove an existing cost mapping

Flags:
  -base-url string      API base URL (default: from config)
  -sales-total string   Sales invoice grand total used as the margin base (default: 0)
  -log-level string     Log level: debug, info, warn, error (default: warn)

Examples:
  # List mappings for an invoice
  backoffice -sales-total 500.00 mappings 6f1b...

  # Assign 250.75 from a cost invoice
  backoffice -sales-total 500.00 add-cost 6f1b... 9c2d... 250.75 "flete junio"`)
}
