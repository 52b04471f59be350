package cmd

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/spf13/cobra"

	"github.com/ostiary-io/ostiary/internal/session"
)

var flagSessionsFollow bool

var sessionsCmd = &cobra.Command{
	Use:   "sessions",
	Short: "List active sessions on a running server",
	Long: `List the sessions currently tracked by a running ostiary server, via
its local status API. With --follow, stream session start and end events
as they happen.`,
	Args: cobra.NoArgs,
	RunE: runSessions,
}

func init() {
	sessionsCmd.Flags().BoolVar(&flagSessionsFollow, "follow", false, "Stream session events instead of listing once")
	rootCmd.AddCommand(sessionsCmd)
}

func runSessions(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	if cfg.StatusAddr == "" {
		return fmt.Errorf("status API is disabled in the configuration")
	}

	if flagSessionsFollow {
		return followSessions(cfg.StatusAddr)
	}
	return listSessions(cfg.StatusAddr)
}

func listSessions(addr string) error {
	resp, err := http.Get("http://" + addr + "/v1/sessions")
	if err != nil {
		return fmt.Errorf("status API unreachable: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("status API returned %s", resp.Status)
	}

	var body struct {
		Sessions []session.Info `json:"sessions"`
		Count    int            `json:"count"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&body); err != nil {
		return err
	}

	if body.Count == 0 {
		fmt.Println("No active sessions.")
		return nil
	}
	for _, s := range body.Sessions {
		fmt.Printf("%s  %-12s  %-15s  started %s  last activity %s\n",
			s.SessionID, s.Username, s.RemoteIP,
			s.StartTime.Format(time.RFC3339),
			s.LastActivity.Format(time.RFC3339))
	}
	return nil
}

func followSessions(addr string) error {
	conn, _, err := websocket.DefaultDialer.Dial("ws://"+addr+"/v1/events", nil)
	if err != nil {
		return fmt.Errorf("status API unreachable: %w", err)
	}
	defer conn.Close()

	for {
		var ev session.Event
		if err := conn.ReadJSON(&ev); err != nil {
			return err
		}
		fmt.Printf("%s  %-13s  %s  %s@%s\n",
			time.Now().Format(time.RFC3339), ev.Type,
			ev.Session.SessionID, ev.Session.Username, ev.Session.RemoteIP)
	}
}
