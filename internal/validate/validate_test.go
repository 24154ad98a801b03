package validate

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProviderID(t *testing.T) {
	assert.NoError(t, ProviderID("math-provider.v1"))
	assert.Error(t, ProviderID(""))
	assert.Error(t, ProviderID("-leading-hyphen"))
	assert.Error(t, ProviderID(strings.Repeat("a", MaxIDLength+1)))
	assert.Error(t, ProviderID("has spaces"))
}

func TestToolName(t *testing.T) {
	assert.NoError(t, ToolName("add"))
	assert.NoError(t, ToolName("math/add"))
	assert.Error(t, ToolName(""))
	assert.Error(t, ToolName(strings.Repeat("a", MaxToolNameLength+1)))
}

func TestArguments_Valid(t *testing.T) {
	assert.NoError(t, Arguments(map[string]interface{}{"a": 10, "b": 20}))
}

func TestArguments_TooDeep(t *testing.T) {
	nested := map[string]interface{}{"v": 0}
	current := nested
	for i := 0; i < MaxArgumentDepth+5; i++ {
		inner := map[string]interface{}{"v": 0}
		current["child"] = inner
		current = inner
	}
	assert.Error(t, Arguments(nested))
}

func TestArguments_TooLarge(t *testing.T) {
	big := map[string]interface{}{"blob": strings.Repeat("x", MaxArgumentBytes+1)}
	assert.Error(t, Arguments(big))
}

func TestArguments_NotSerializable(t *testing.T) {
	bad := map[string]interface{}{"fn": func() {}}
	assert.Error(t, Arguments(bad))
}

func TestTimeout(t *testing.T) {
	assert.NoError(t, Timeout(5*time.Second))
	assert.Error(t, Timeout(0))
	assert.Error(t, Timeout(-time.Second))
	assert.Error(t, Timeout(time.Hour))
}
