package main

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gorm.io/gorm"

	"github.com/pranakorn/creditbot/internal/admin"
	"github.com/pranakorn/creditbot/internal/store/gormstore"
	"github.com/pranakorn/creditbot/internal/token"
	"github.com/pranakorn/creditbot/internal/wallet"
)

const flagDatabaseURL = "database-url"

func main() {
	command := newRootCommand()
	if err := command.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "creditctl: %v\n", err)
		os.Exit(1)
	}
}

func newRootCommand() *cobra.Command {
	root := &cobra.Command{
		Use:           "creditctl",
		Short:         "Provisioning tool for the credit bot",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().String(flagDatabaseURL, "", "database connection string (postgres:// or sqlite path)")

	root.AddCommand(
		newCreateAdminCommand(),
		newResetPasswordCommand(),
		newGenerateTokenCommand(),
		newListUsersCommand(),
		newSetAdminCommand(),
	)
	return root
}

func resolveDatabaseURL(command *cobra.Command) (string, error) {
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	if err := viper.BindEnv("database_url", "DATABASE_URL"); err != nil {
		return "", err
	}
	if err := viper.BindPFlag("database_url", command.Flags().Lookup(flagDatabaseURL)); err != nil {
		return "", err
	}
	dsn := viper.GetString("database_url")
	if dsn == "" {
		return "", fmt.Errorf("database url is required (flag --%s or DATABASE_URL)", flagDatabaseURL)
	}
	return dsn, nil
}

func withDatabase(command *cobra.Command, fn func(ctx context.Context, db *gorm.DB) error) error {
	dsn, err := resolveDatabaseURL(command)
	if err != nil {
		return err
	}
	ctx := command.Context()
	db, cleanup, driver, err := gormstore.Open(ctx, dsn)
	if err != nil {
		return fmt.Errorf("database open: %w", err)
	}
	defer func() { _ = cleanup() }()
	if err := gormstore.Migrate(db, driver); err != nil {
		return err
	}
	return fn(ctx, db)
}

func newCreateAdminCommand() *cobra.Command {
	var email, name, password string
	command := &cobra.Command{
		Use:   "create-admin",
		Short: "Create a dashboard admin login",
		RunE: func(command *cobra.Command, args []string) error {
			return withDatabase(command, func(ctx context.Context, db *gorm.DB) error {
				service, err := admin.NewService(gormstore.NewAdminStore(db))
				if err != nil {
					return err
				}
				operator, err := service.CreateOperator(ctx, email, name, password)
				if err != nil {
					return err
				}
				fmt.Printf("created admin %s (id %d)\n", operator.Email, operator.ID)
				return nil
			})
		},
	}
	command.Flags().StringVar(&email, "email", "", "admin email")
	command.Flags().StringVar(&name, "name", "", "admin display name")
	command.Flags().StringVar(&password, "password", "", "admin password (min 8 chars)")
	_ = command.MarkFlagRequired("email")
	_ = command.MarkFlagRequired("password")
	return command
}

func newResetPasswordCommand() *cobra.Command {
	var email, password string
	command := &cobra.Command{
		Use:   "reset-admin-password",
		Short: "Replace a dashboard admin's password",
		RunE: func(command *cobra.Command, args []string) error {
			return withDatabase(command, func(ctx context.Context, db *gorm.DB) error {
				service, err := admin.NewService(gormstore.NewAdminStore(db))
				if err != nil {
					return err
				}
				if err := service.ResetPassword(ctx, email, password); err != nil {
					return err
				}
				fmt.Printf("password reset for %s\n", email)
				return nil
			})
		},
	}
	command.Flags().StringVar(&email, "email", "", "admin email")
	command.Flags().StringVar(&password, "password", "", "new password (min 8 chars)")
	_ = command.MarkFlagRequired("email")
	_ = command.MarkFlagRequired("password")
	return command
}

func newGenerateTokenCommand() *cobra.Command {
	var creditBaht, bonusBaht string
	var expiryDays int
	var adminID int64
	command := &cobra.Command{
		Use:   "generate-token",
		Short: "Issue a one-time credit token",
		RunE: func(command *cobra.Command, args []string) error {
			return withDatabase(command, func(ctx context.Context, db *gorm.DB) error {
				credit, err := parseOptionalBaht(creditBaht)
				if err != nil {
					return fmt.Errorf("credit: %w", err)
				}
				bonus, err := parseOptionalBaht(bonusBaht)
				if err != nil {
					return fmt.Errorf("limit bonus: %w", err)
				}
				clock := func() int64 { return time.Now().UTC().Unix() }
				walletService, err := wallet.NewService(gormstore.NewWalletStore(db), clock)
				if err != nil {
					return err
				}
				service, err := token.NewService(gormstore.NewTokenStore(db), walletService, clock, nil)
				if err != nil {
					return err
				}
				issued, err := service.Generate(ctx, adminID, credit, bonus,
					time.Duration(expiryDays)*24*time.Hour)
				if err != nil {
					return err
				}
				fmt.Printf("token %s: credit %s, limit bonus %s, expires %s\n",
					issued.Code,
					wallet.FormatBaht(issued.CreditAmount),
					wallet.FormatBaht(issued.LimitBonus),
					time.Unix(issued.ExpiresUnixUTC, 0).UTC().Format(time.RFC3339))
				return nil
			})
		},
	}
	command.Flags().StringVar(&creditBaht, "credit", "0", "credit amount in baht")
	command.Flags().StringVar(&bonusBaht, "limit-bonus", "0", "credit limit bonus in baht")
	command.Flags().IntVar(&expiryDays, "expiry-days", 7, "days until the token expires")
	command.Flags().Int64Var(&adminID, "admin-id", 0, "issuing admin id recorded on the token")
	return command
}

func newListUsersCommand() *cobra.Command {
	var limit, offset int
	command := &cobra.Command{
		Use:   "list-users",
		Short: "List customer accounts",
		RunE: func(command *cobra.Command, args []string) error {
			return withDatabase(command, func(ctx context.Context, db *gorm.DB) error {
				service, err := admin.NewService(gormstore.NewAdminStore(db))
				if err != nil {
					return err
				}
				accounts, err := service.Accounts(ctx, limit, offset)
				if err != nil {
					return err
				}
				for _, account := range accounts {
					marker := ""
					if account.IsAdmin {
						marker = " [admin]"
					}
					fmt.Printf("%d\t%s\t%s\tbalance %s\tlimit %s\tspend %s%s\n",
						account.ID, account.ExternalID, account.DisplayName,
						wallet.FormatBaht(account.Balance),
						wallet.FormatBaht(account.CreditLimit),
						wallet.FormatBaht(account.LifetimeSpend),
						marker)
				}
				return nil
			})
		},
	}
	command.Flags().IntVar(&limit, "limit", 50, "page size")
	command.Flags().IntVar(&offset, "offset", 0, "page offset")
	return command
}

func newSetAdminCommand() *cobra.Command {
	var accountID int64
	var revoke bool
	command := &cobra.Command{
		Use:   "set-line-admin",
		Short: "Grant or revoke chat-admin rights on a customer account",
		RunE: func(command *cobra.Command, args []string) error {
			return withDatabase(command, func(ctx context.Context, db *gorm.DB) error {
				service, err := admin.NewService(gormstore.NewAdminStore(db))
				if err != nil {
					return err
				}
				if err := service.SetAccountAdmin(ctx, accountID, !revoke); err != nil {
					return err
				}
				verb := "granted to"
				if revoke {
					verb = "revoked from"
				}
				fmt.Printf("chat-admin rights %s account %d\n", verb, accountID)
				return nil
			})
		},
	}
	command.Flags().Int64Var(&accountID, "account-id", 0, "internal account id")
	command.Flags().BoolVar(&revoke, "revoke", false, "revoke instead of grant")
	_ = command.MarkFlagRequired("account-id")
	return command
}

func parseOptionalBaht(raw string) (wallet.Satang, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" || trimmed == "0" {
		return 0, nil
	}
	return wallet.ParseBaht(trimmed)
}
