package main

import (
	"bytes"
	"testing"

	"github.com/spf13/viper"
)

func executeRootCommand(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	viper.Reset()
	cmd := newRootCommand()
	var stdout, stderr bytes.Buffer
	cmd.SetOut(&stdout)
	cmd.SetErr(&stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func TestBootstrapWithoutConnectionStringFails(t *testing.T) {
	t.Setenv("SESSIONSTORE_CONNECTION_STRING", "")

	_, _, err := executeRootCommand(t, "bootstrap")
	if err == nil {
		t.Fatalf("expected an error when no connection string is configured")
	}
}

func TestInspectRequiresExactlyOneArgument(t *testing.T) {
	t.Setenv("SESSIONSTORE_CONNECTION_STRING", "AccountEndpoint=https://example.documents.azure.com:443/;AccountKey=YWJj;")

	_, _, err := executeRootCommand(t, "inspect")
	if err == nil {
		t.Fatalf("expected an error when no session id is given")
	}
}
