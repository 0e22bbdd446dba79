package cmd

import (
	"bufio"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"gatepass/config"
	"gatepass/display"
	"gatepass/internal/services/authority"
	"gatepass/models"
	"gatepass/scan"
	"gatepass/services"
)

func newAuthorityClient(cfg *config.Config) (*authority.Client, error) {
	return authority.New(&authority.Config{
		BaseURL:          cfg.AuthorityBaseURL,
		APIKey:           cfg.AuthorityAPIKey,
		IssueTimeout:     cfg.IssueTimeout,
		ReconcileTimeout: cfg.ReconcileTimeout,
		PhotoTimeout:     cfg.PhotoTimeout,
	})
}

// newGateCommand runs a gatekeeper scan loop on a terminal: one scanned (or
// pasted) token per line, transitions printed as they arrive.
func newGateCommand(cfg *config.Config) *cobra.Command {
	var operator string

	cmd := &cobra.Command{
		Use:   "gate",
		Short: "Run an interactive gate scanner against the issuing authority",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAuthorityClient(cfg)
			if err != nil {
				return err
			}
			validation := services.NewValidationService(client, operator)

			fmt.Println("Scan a ticket (one token per line, Ctrl-D to quit):")
			scanner := bufio.NewScanner(os.Stdin)
			scanner.Buffer(make([]byte, 0, 64*1024), 64*1024)

			for scanner.Scan() {
				raw, err := scan.FromText(scanner.Text())
				if err != nil {
					continue
				}

				session := validation.Scan(raw)
				for update := range session.Updates() {
					printUpdate(update)
				}
				fmt.Println("---")
			}
			return scanner.Err()
		},
	}

	cmd.Flags().StringVar(&operator, "operator", "gate", "operator id recorded on admissions")
	return cmd
}

func printUpdate(update services.Update) {
	if update.Kind == services.KindPhoto {
		fmt.Printf("photo: %s\n", update.PhotoURL)
		return
	}

	fmt.Printf("[%s]\n", update.State)
	switch update.State {
	case services.StateLocallyDisplayed:
		for _, line := range display.Summary(*update.Payload) {
			fmt.Println("  " + line)
		}
	case services.StateConfirmed, services.StateAlreadyAdmitted:
		if update.CheckedInAt != nil {
			fmt.Printf("  checked in at %s\n", update.CheckedInAt.Format("15:04:05"))
		}
	case services.StateServerRejected, services.StateServerUnreachable:
		if update.Reason != "" {
			fmt.Printf("  %s\n", update.Reason)
		}
	}
}

// newIssueCommand mints one ticket from the command line, dropping to local
// fallback synthesis when the authority cannot be reached.
func newIssueCommand(cfg *config.Config) *cobra.Command {
	var (
		registrationID string
		qrOut          string
		holder         models.Holder
		event          models.EventInfo
	)

	cmd := &cobra.Command{
		Use:   "issue",
		Short: "Issue a ticket token for a registration",
		RunE: func(cmd *cobra.Command, args []string) error {
			client, err := newAuthorityClient(cfg)
			if err != nil {
				return err
			}
			issuance := services.NewIssuanceService(client, cfg.FallbackTokenTTL)

			ticket, err := issuance.IssueTicket(cmd.Context(), holder, event, registrationID)
			if err != nil {
				return err
			}

			fmt.Println(ticket.Token)
			if ticket.IsFallback {
				fmt.Fprintf(os.Stderr, "WARNING: offline fallback ticket, reference %s, verify at the desk\n", ticket.FallbackRef)
			}

			if qrOut != "" {
				png, err := display.RenderQR(ticket.Token)
				if err != nil {
					return err
				}
				if err := os.WriteFile(qrOut, png, 0o644); err != nil {
					return err
				}
			}
			return nil
		},
	}

	cmd.Flags().StringVar(&registrationID, "registration-id", "", "registration the ticket belongs to")
	cmd.Flags().StringVar(&qrOut, "qr-out", "", "write the ticket QR PNG to this path")
	cmd.Flags().StringVar(&holder.Name, "name", "", "participant name")
	cmd.Flags().StringVar(&holder.RollNumber, "roll", "", "participant roll number")
	cmd.Flags().StringVar(&holder.Department, "department", "", "participant department")
	cmd.Flags().StringVar(&event.ID, "event-id", "", "event id")
	cmd.Flags().StringVar(&event.Title, "title", "", "event title")
	cmd.Flags().StringVar(&event.Location, "location", "", "event location")
	return cmd
}
