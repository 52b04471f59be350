package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ostiary-io/ostiary/internal/consent"
	"github.com/ostiary-io/ostiary/internal/protocol"
)

var (
	flagConsentTTL  time.Duration
	flagConsentText string
	flagConsentIP   string
)

var consentCmd = &cobra.Command{
	Use:   "consent",
	Short: "Manage recorded consents",
}

var consentGrantCmd = &cobra.Command{
	Use:   "grant <username>",
	Short: "Record consent for remote control of this machine",
	Args:  cobra.ExactArgs(1),
	RunE:  runConsentGrant,
}

var consentRevokeCmd = &cobra.Command{
	Use:   "revoke <username>",
	Short: "Revoke the active consent for a username",
	Args:  cobra.ExactArgs(1),
	RunE:  runConsentRevoke,
}

var consentShowCmd = &cobra.Command{
	Use:   "show",
	Short: "List recorded consents, newest first",
	Args:  cobra.NoArgs,
	RunE:  runConsentShow,
}

func init() {
	consentGrantCmd.Flags().DurationVar(&flagConsentTTL, "ttl", 0, "Consent lifetime (e.g. 24h); 0 means no expiration")
	consentGrantCmd.Flags().StringVar(&flagConsentText, "text", "I consent to remote control of this machine.", "Consent statement to record and sign")
	consentGrantCmd.Flags().StringVar(&flagConsentIP, "ip", "local", "Address the consent was granted from")
	consentCmd.AddCommand(consentGrantCmd)
	consentCmd.AddCommand(consentRevokeCmd)
	consentCmd.AddCommand(consentShowCmd)
	rootCmd.AddCommand(consentCmd)
}

func openConsentStore() (*consent.Store, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, err
	}
	return consent.NewStore(cfg.ConsentPath)
}

func runConsentGrant(cmd *cobra.Command, args []string) error {
	username := args[0]
	if err := protocol.ValidateUsername(username); err != nil {
		return err
	}

	store, err := openConsentStore()
	if err != nil {
		return err
	}

	hostname, err := os.Hostname()
	if err != nil {
		hostname = "unknown"
	}

	record := &consent.Record{
		Username:    username,
		IPAddress:   flagConsentIP,
		MachineName: hostname,
		ConsentText: flagConsentText,
	}
	if flagConsentTTL > 0 {
		exp := time.Now().UTC().Add(flagConsentTTL)
		record.ExpirationDate = &exp
	}

	if err := store.RecordConsent(record); err != nil {
		return err
	}

	fmt.Printf("Consent recorded for %s (id %s)\n", username, record.ID)
	if record.ExpirationDate != nil {
		fmt.Printf("Expires %s\n", record.ExpirationDate.Format(time.RFC3339))
	}
	return nil
}

func runConsentRevoke(cmd *cobra.Command, args []string) error {
	store, err := openConsentStore()
	if err != nil {
		return err
	}

	revoked, err := store.RevokeConsent(args[0])
	if err != nil {
		return err
	}
	if !revoked {
		return fmt.Errorf("no active consent for %s", args[0])
	}
	fmt.Printf("Consent revoked for %s\n", args[0])
	return nil
}

func runConsentShow(cmd *cobra.Command, args []string) error {
	store, err := openConsentStore()
	if err != nil {
		return err
	}

	records := store.ListConsents()
	if len(records) == 0 {
		fmt.Println("No consents recorded.")
		return nil
	}

	for _, r := range records {
		state := "revoked"
		if r.IsActive {
			state = "active"
			if r.Expired(time.Now()) {
				state = "expired"
			}
		}
		if !store.ValidateSignature(&r) {
			state += ", INVALID SIGNATURE"
		}
		fmt.Printf("%s  %-12s  %s  (%s)\n", r.ConsentTimestamp.Format(time.RFC3339), r.Username, r.ID, state)
	}
	return nil
}
