package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/spf13/cobra"

	"github.com/forest6511/botwallet/pkg/audit"
	"github.com/forest6511/botwallet/pkg/crypto"
)

// Audit flags
var (
	auditLimit          int
	auditSince          string
	auditPruneOlderThan string
)

func init() {
	rootCmd.AddCommand(auditCmd)

	auditCmd.AddCommand(auditListCmd)
	auditCmd.AddCommand(auditVerifyCmd)
	auditCmd.AddCommand(auditPruneCmd)

	auditListCmd.Flags().IntVar(&auditLimit, "limit", 100, "Maximum number of events to show")
	auditListCmd.Flags().StringVar(&auditSince, "since", "", "Show events since duration (e.g., 24h, 7d)")
	auditPruneCmd.Flags().StringVar(&auditPruneOlderThan, "older-than", "", "Delete monthly files older than duration (e.g., 1y)")
}

// auditCmd is the parent command for audit operations
var auditCmd = &cobra.Command{
	Use:   "audit",
	Short: "Audit log operations",
}

// openAudit returns the audit logger keyed with the master secret. The
// key is needed to verify the chain and to pseudonymize user ids.
func openAudit() (*audit.Logger, error) {
	secret, err := masterSecret()
	if err != nil {
		return nil, err
	}
	defer crypto.SecureWipe(secret)

	logger := audit.NewLogger(cfg.AuditDir)
	if err := logger.SetHMACKey(secret); err != nil {
		return nil, err
	}
	return logger, nil
}

// auditListCmd lists audit log entries
var auditListCmd = &cobra.Command{
	Use:   "list",
	Short: "List audit log entries",
	RunE: func(cmd *cobra.Command, args []string) error {
		var since time.Time
		if auditSince != "" {
			duration, err := parseDuration(auditSince)
			if err != nil {
				return fmt.Errorf("invalid since format: %w", err)
			}
			since = time.Now().Add(-duration)
		}

		logger, err := openAudit()
		if err != nil {
			return err
		}

		events, err := logger.ListEvents(auditLimit, since)
		if err != nil {
			return fmt.Errorf("failed to list audit events: %w", err)
		}
		if len(events) == 0 {
			fmt.Println("No audit events found")
			return nil
		}

		filter := ""
		if userID != "" {
			filter = logger.UserHMAC(userID)
		}
		shown := 0
		for _, event := range events {
			if filter != "" && event.UserHMAC != filter {
				continue
			}
			fmt.Println(formatEvent(event))
			shown++
		}

		fmt.Printf("\nTotal: %d events\n", shown)
		return nil
	},
}

// formatEvent renders TIMESTAMP SOURCE OPERATION RESULT [wallet:ID] [error:CODE].
func formatEvent(event audit.Event) string {
	line := fmt.Sprintf("%s %s %s %s", event.Timestamp, event.Source, event.Operation, event.Result)
	if event.WalletID != "" {
		line += " wallet:" + event.WalletID
	}
	if event.Error != nil {
		line += " error:" + event.Error.Code
	}
	return line
}

// auditVerifyCmd verifies audit log integrity
var auditVerifyCmd = &cobra.Command{
	Use:   "verify",
	Short: "Verify audit log HMAC chain integrity",
	RunE: func(cmd *cobra.Command, args []string) error {
		logger, err := openAudit()
		if err != nil {
			return err
		}

		fmt.Println("Verifying audit log integrity...")
		result, err := logger.Verify()
		if err != nil {
			return fmt.Errorf("failed to verify audit log: %w", err)
		}

		if !result.Valid {
			fmt.Printf("✗ Audit log verification FAILED\n")
			fmt.Printf("  Records total: %d\n", result.RecordsTotal)
			fmt.Printf("  Records verified: %d\n", result.RecordsVerified)
			fmt.Println("  Errors:")
			for _, e := range result.Errors {
				fmt.Printf("    - %s\n", e)
			}
			return errors.New("audit log integrity check failed")
		}
		fmt.Printf("✓ Audit log verified: %d records, chain intact\n", result.RecordsTotal)

		jsonResult, _ := json.Marshal(result)
		fmt.Printf("\nJSON: %s\n", string(jsonResult))
		return nil
	},
}

// auditPruneCmd deletes old audit logs
var auditPruneCmd = &cobra.Command{
	Use:   "prune",
	Short: "Delete old audit log files",
	RunE: func(cmd *cobra.Command, args []string) error {
		if auditPruneOlderThan == "" {
			return errors.New("--older-than flag is required")
		}
		duration, err := parseDuration(auditPruneOlderThan)
		if err != nil {
			return fmt.Errorf("invalid older-than format: %w", err)
		}

		logger, err := openAudit()
		if err != nil {
			return err
		}
		deleted, err := logger.Prune(duration)
		if err != nil {
			return fmt.Errorf("failed to prune audit logs: %w", err)
		}
		fmt.Printf("Deleted %d audit log entries\n", deleted)
		return nil
	},
}
