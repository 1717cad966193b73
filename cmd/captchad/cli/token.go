package cli

import (
	"context"
	"fmt"
	"strconv"

	"github.com/spf13/cobra"

	"github.com/captchad/captchad/internal/model"
)

func newTokenCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Manage API tokens",
		Long:  "Create, list, delete, and reset API tokens used to authenticate recognition requests.",
	}

	cmd.AddCommand(newTokenCreateCmd())
	cmd.AddCommand(newTokenListCmd())
	cmd.AddCommand(newTokenDeleteCmd())
	cmd.AddCommand(newTokenResetUsageCmd())

	return cmd
}

// ---------- token create ----------

func newTokenCreateCmd() *cobra.Command {
	var (
		name        string
		value       string
		minuteLimit int64
		hourLimit   int64
	)

	cmd := &cobra.Command{
		Use:   "create",
		Short: "Create a new API token",
		Long:  "Create an API token. Without --value a random 43-character token is generated.",
		Example: `  captchad token create --name "svc-a" --minute-limit 60
  captchad token create --value "my-long-custom-token-value"`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runTokenCreate(value, name, minuteLimit, hourLimit)
		},
	}

	cmd.Flags().StringVar(&name, "name", "", "Human-readable token name")
	cmd.Flags().StringVar(&value, "value", "", "Explicit token value (min 16 characters; generated when omitted)")
	cmd.Flags().Int64Var(&minuteLimit, "minute-limit", 0, "Max requests per minute (0 = unlimited)")
	cmd.Flags().Int64Var(&hourLimit, "hour-limit", 0, "Max requests per hour (0 = unlimited)")

	return cmd
}

func runTokenCreate(value, name string, minuteLimit, hourLimit int64) error {
	st, err := openStore()
	if err != nil {
		return fmt.Errorf("open token store: %w", err)
	}
	defer st.Close()

	ctx := context.Background()

	secret := value
	if secret == "" {
		secret = model.GenerateSecret()
	} else {
		if secret, err = model.ValidateSecret(secret); err != nil {
			return err
		}
	}

	tok := &model.Token{Value: secret, Name: name}
	if minuteLimit > 0 {
		tok.MinuteLimit = &minuteLimit
	}
	if hourLimit > 0 {
		tok.HourLimit = &hourLimit
	}

	if err := st.Create(ctx, tok); err != nil {
		return fmt.Errorf("create token: %w", err)
	}
	if tok.Name == "" {
		tok.Name = fmt.Sprintf("Token %d", tok.ID)
		if err := st.Update(ctx, tok); err != nil {
			return fmt.Errorf("name token: %w", err)
		}
	}

	fmt.Println("Token created:")
	fmt.Println()
	fmt.Printf("  ID:    %d\n", tok.ID)
	fmt.Printf("  Name:  %s\n", tok.Name)
	fmt.Printf("  Token: %s\n", tok.Value)
	if tok.MinuteLimit != nil {
		fmt.Printf("  Limit: %d/minute\n", *tok.MinuteLimit)
	}
	if tok.HourLimit != nil {
		fmt.Printf("  Limit: %d/hour\n", *tok.HourLimit)
	}
	fmt.Println()
	fmt.Println("  A running server picks the token up on its next cache refresh.")
	return nil
}

// ---------- token list ----------

func newTokenListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List API tokens (secrets masked)",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, err := openStore()
			if err != nil {
				return fmt.Errorf("open token store: %w", err)
			}
			defer st.Close()

			tokens, err := st.List(context.Background())
			if err != nil {
				return err
			}
			if len(tokens) == 0 {
				fmt.Println("No tokens configured.")
				return nil
			}

			fmt.Printf("%-5s %-24s %-26s %-12s %-12s %s\n",
				"ID", "NAME", "TOKEN", "MINUTE", "HOUR", "USAGE")
			for _, t := range tokens {
				t = t.Masked()
				minute, hour := "unlimited", "unlimited"
				if t.MinuteLimit != nil {
					minute = strconv.FormatInt(*t.MinuteLimit, 10)
				}
				if t.HourLimit != nil {
					hour = strconv.FormatInt(*t.HourLimit, 10)
				}
				fmt.Printf("%-5d %-24s %-26s %-12s %-12s %d\n",
					t.ID, t.Name, t.Value, minute, hour, t.UsageCount)
			}
			return nil
		},
	}
}

// ---------- token delete ----------

func newTokenDeleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <id>",
		Short: "Delete an API token",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid token id %q", args[0])
			}

			st, err := openStore()
			if err != nil {
				return fmt.Errorf("open token store: %w", err)
			}
			defer st.Close()

			if err := st.Delete(context.Background(), id); err != nil {
				return err
			}
			fmt.Printf("Token %d deleted.\n", id)
			return nil
		},
	}
}

// ---------- token reset-usage ----------

func newTokenResetUsageCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "reset-usage <id>",
		Short: "Reset a token's usage count to zero",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("invalid token id %q", args[0])
			}

			st, err := openStore()
			if err != nil {
				return fmt.Errorf("open token store: %w", err)
			}
			defer st.Close()

			if err := st.ResetUsage(context.Background(), id); err != nil {
				return err
			}
			fmt.Printf("Usage count for token %d reset.\n", id)
			return nil
		},
	}
}
