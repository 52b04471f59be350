package cmd

import (
	"bufio"
	"encoding/json"
	"fmt"
	"io"
	"net"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/ostiary-io/ostiary/internal/protocol"
)

var (
	flagConnectAddr     string
	flagConnectPassword string
	flagConnectUsername string
)

var connectCmd = &cobra.Command{
	Use:   "connect",
	Short: "Connect to an ostiary server as a viewer",
	Long: `Perform the admission handshake against a running server and, once
admitted, relay stdin to the session. Type DISCONNECT on its own line to
end the session cleanly.`,
	Args: cobra.NoArgs,
	RunE: runConnect,
}

func init() {
	connectCmd.Flags().StringVar(&flagConnectAddr, "addr", "127.0.0.1:9876", "Server address")
	connectCmd.Flags().StringVar(&flagConnectPassword, "password", "", "Shared secret (env: OSTIARY_PASSWORD)")
	connectCmd.Flags().StringVar(&flagConnectUsername, "username", "", "Viewer name sent in the handshake")
	rootCmd.AddCommand(connectCmd)
}

func runConnect(cmd *cobra.Command, args []string) error {
	password := flagConnectPassword
	if password == "" {
		password = os.Getenv("OSTIARY_PASSWORD")
	}
	if password == "" {
		return fmt.Errorf("a password is required (--password or OSTIARY_PASSWORD)")
	}

	conn, err := net.DialTimeout("tcp", flagConnectAddr, 10*time.Second)
	if err != nil {
		return err
	}
	defer conn.Close()

	req, err := json.Marshal(protocol.AuthRequest{Password: password, Username: flagConnectUsername})
	if err != nil {
		return err
	}
	if _, err := conn.Write(req); err != nil {
		return err
	}

	conn.SetReadDeadline(time.Now().Add(15 * time.Second))
	buf := make([]byte, protocol.MaxMessageSize)
	n, err := conn.Read(buf)
	if err != nil {
		return fmt.Errorf("no handshake response: %w", err)
	}

	var resp protocol.HandshakeResponse
	if err := json.Unmarshal(buf[:n], &resp); err != nil {
		return fmt.Errorf("malformed handshake response: %w", err)
	}
	if !resp.Success {
		return fmt.Errorf("rejected: %s", resp.Error)
	}

	fmt.Fprintf(os.Stderr, "admitted: session %s (%dx%d)\n", resp.SessionID, resp.ScreenWidth, resp.ScreenHeight)

	conn.SetReadDeadline(time.Time{})
	go func() {
		io.Copy(os.Stdout, conn)
	}()

	scanner := bufio.NewScanner(os.Stdin)
	for scanner.Scan() {
		line := scanner.Text()
		if line == protocol.DisconnectCommand {
			conn.Write([]byte(protocol.DisconnectCommand))
			return nil
		}
		if _, err := conn.Write([]byte(line + "\n")); err != nil {
			return err
		}
	}

	// stdin closed; end the session cleanly.
	conn.Write([]byte(protocol.DisconnectCommand))
	return scanner.Err()
}
