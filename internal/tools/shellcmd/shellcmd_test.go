package shellcmd

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestValidateRejectsShellControlTokens(t *testing.T) {
	err := Validate(Args{Command: "echo", Parameters: []string{"hi && rm -rf /"}}, "/tmp")
	require.Error(t, err)
	assert.IsType(t, ScopeViolationError{}, err)
}

func TestValidateRejectsInlineEval(t *testing.T) {
	err := Validate(Args{Command: "sh", Parameters: []string{"-c", "echo hi"}}, "/tmp")
	require.Error(t, err)
}

func TestValidateRejectsDirectoryEscape(t *testing.T) {
	err := Validate(Args{Command: "ls", Directory: "../../etc"}, "/tmp/work")
	require.Error(t, err)
}

func TestValidateAllowsOrdinaryCommand(t *testing.T) {
	err := Validate(Args{Command: "echo", Parameters: []string{"hi"}}, "/tmp/work")
	assert.NoError(t, err)
}

func TestValidateAllowsContainedDirectory(t *testing.T) {
	err := Validate(Args{Command: "ls", Directory: "subdir"}, "/tmp/work")
	assert.NoError(t, err)
}
