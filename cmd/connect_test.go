package cmd

import (
	"errors"
	"io"
	"strings"
	"testing"

	"github.com/BioHazard786/Camsync/internal/session"
)

func runRoot(t *testing.T, args ...string) error {
	t.Helper()
	rootCmd.SetArgs(args)
	rootCmd.SetOut(io.Discard)
	rootCmd.SetErr(io.Discard)
	rootCmd.SilenceUsage = true
	rootCmd.SilenceErrors = true
	t.Cleanup(func() { rootCmd.SetArgs(nil) })
	return rootCmd.Execute()
}

func TestConnect_RoleIsRequired(t *testing.T) {
	err := runRoot(t, "connect", "exam-42")
	if err == nil || !strings.Contains(err.Error(), `"role"`) {
		t.Fatalf("err=%v, want missing --role", err)
	}
}

func TestConnect_EmptyRoleRejected(t *testing.T) {
	err := runRoot(t, "connect", "exam-42", "--role=")
	if !errors.Is(err, session.ErrInvalidRole) {
		t.Fatalf("err=%v, want ErrInvalidRole", err)
	}
}
