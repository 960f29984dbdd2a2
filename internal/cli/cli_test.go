package cli

import (
	"bytes"
	"strings"
	"testing"

	"github.com/golang-jwt/jwt/v4"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func run(t *testing.T, args ...string) (string, error) {
	t.Helper()
	cmd := NewRootCommand("test")
	out := new(bytes.Buffer)
	cmd.SetOut(out)
	cmd.SetErr(out)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return out.String(), err
}

func TestTokenCommand(t *testing.T) {
	t.Setenv("KRT_AUTH_JWT_SECRET", "cli-secret")
	t.Setenv("KRT_AUTH_ISSUER", "krt-bank")

	out, err := run(t, "token", "--subject", "teller-9")
	require.NoError(t, err)

	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(strings.TrimSpace(out), claims, func(*jwt.Token) (interface{}, error) {
		return []byte("cli-secret"), nil
	})
	require.NoError(t, err)
	assert.True(t, token.Valid)
	assert.Equal(t, "teller-9", claims.Subject)
	assert.Equal(t, "krt-bank", claims.Issuer)
}

func TestTokenCommand_RequiresSecret(t *testing.T) {
	t.Setenv("KRT_AUTH_JWT_SECRET", "")

	_, err := run(t, "token")

	assert.ErrorContains(t, err, "jwt_secret")
}

func TestServeCommand_RejectsUnknownComponent(t *testing.T) {
	_, err := run(t, "serve", "--components", "api,ledger")

	assert.ErrorContains(t, err, `unknown component "ledger"`)
}

func TestCommandTree(t *testing.T) {
	root := NewRootCommand("1.2.3")

	names := []string{}
	for _, c := range root.Commands() {
		names = append(names, c.Name())
	}
	assert.Subset(t, names, []string{"serve", "migrate", "replay", "token"})
	assert.Equal(t, "1.2.3", root.Version)
	assert.NotNil(t, root.PersistentFlags().Lookup("config"))
}
