// Package main provides the seifctl CLI: identity management, an
// addressbook of remembered peers, and connect/listen/run entry points
// for the Seif protocol.
package main

import (
	"fmt"
	"os"

	"github.com/charmbracelet/lipgloss"
	"github.com/spf13/cobra"
)

// Version is set at build time via ldflags.
var Version = "dev"

var (
	styleOK   = lipgloss.NewStyle().Foreground(lipgloss.Color("42")).Bold(true)
	styleErr  = lipgloss.NewStyle().Foreground(lipgloss.Color("196")).Bold(true)
	styleDim  = lipgloss.NewStyle().Foreground(lipgloss.Color("245"))
	styleBold = lipgloss.NewStyle().Bold(true)
)

func main() {
	rootCmd := &cobra.Command{
		Use:     "seifctl",
		Short:   "seifctl manages Seif protocol identities and sessions",
		Version: Version,
	}

	rootCmd.AddGroup(&cobra.Group{ID: "identity", Title: "Identity:"})
	rootCmd.AddGroup(&cobra.Group{ID: "session", Title: "Sessions:"})
	rootCmd.AddGroup(&cobra.Group{ID: "admin", Title: "Administration:"})

	keygen := keygenCmd()
	keygen.GroupID = "identity"
	rootCmd.AddCommand(keygen)

	identity := identityCmd()
	identity.GroupID = "identity"
	rootCmd.AddCommand(identity)

	addressbook := addressbookCmd()
	addressbook.GroupID = "identity"
	rootCmd.AddCommand(addressbook)

	connect := connectCmd()
	connect.GroupID = "session"
	rootCmd.AddCommand(connect)

	listen := listenCmd()
	listen.GroupID = "session"
	rootCmd.AddCommand(listen)

	run := runCmd()
	run.GroupID = "admin"
	rootCmd.AddCommand(run)

	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, styleErr.Render("error:"), err)
		os.Exit(1)
	}
}

func printOK(format string, args ...interface{}) {
	fmt.Println(styleOK.Render("✓"), fmt.Sprintf(format, args...))
}

func printInfo(format string, args ...interface{}) {
	fmt.Println(styleDim.Render(fmt.Sprintf(format, args...)))
}
