package scpi_test

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/tjko/fanpico-sub000/internal/scpi"
)

func TestDispatchMatchesRegisteredHandler(t *testing.T) {
	tr := scpi.NewTrie()
	tr.Register([]string{"fan", "pwm?"}, func(args []string) (string, int) {
		return "42", scpi.CodeOK
	})

	resp, code := tr.Dispatch("FAN:PWM? 1")
	assert.Equal(t, "42", resp)
	assert.Equal(t, scpi.CodeOK, code)
}

func TestDispatchUnknownHeader(t *testing.T) {
	tr := scpi.NewTrie()
	_, code := tr.Dispatch("BOGUS:HEADER 1")
	assert.Equal(t, scpi.CodeUnknownHeader, code)
}

func TestDispatchInternalNodeWithoutHandler(t *testing.T) {
	tr := scpi.NewTrie()
	tr.Register([]string{"fan", "pwm"}, func(args []string) (string, int) { return "", scpi.CodeOK })

	_, code := tr.Dispatch("FAN")
	assert.Equal(t, scpi.CodeCommandError, code)
}

func TestDispatchEmptyLineIsSyntaxError(t *testing.T) {
	tr := scpi.NewTrie()
	_, code := tr.Dispatch("   ")
	assert.Equal(t, scpi.CodeSyntaxError, code)
}

func TestDispatchPassesArguments(t *testing.T) {
	tr := scpi.NewTrie()
	var gotArgs []string
	tr.Register([]string{"fan", "pwm"}, func(args []string) (string, int) {
		gotArgs = args
		return "", scpi.CodeOK
	})

	_, _ = tr.Dispatch("FAN:PWM 1,50")
	assert.Equal(t, []string{"1,50"}, gotArgs)
}
