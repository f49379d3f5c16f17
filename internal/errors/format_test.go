package errors

import (
	"encoding/json"
	"errors"
	"log/slog"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFormatJSON_IncludesDetailsAndCause(t *testing.T) {
	// Given: a store error with a cause
	err := StoreError("rename", "/in/a.txt", errors.New("cross-device link")).
		WithSuggestion("Keep the processed root on the same filesystem as the inbox")

	// When: formatting as JSON
	data, jsonErr := FormatJSON(err)

	// Then: all fields are present
	require.NoError(t, jsonErr)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))

	assert.Equal(t, ErrCodeStore, result["code"])
	assert.Equal(t, string(CategoryFS), result["category"])
	assert.Equal(t, string(SeverityError), result["severity"])
	assert.Equal(t, "cross-device link", result["cause"])

	details, ok := result["details"].(map[string]any)
	require.True(t, ok)
	assert.Equal(t, "/in/a.txt", details["path"])
}

func TestFormatJSON_StandardErrorBecomesInternal(t *testing.T) {
	data, err := FormatJSON(errors.New("generic error"))
	require.NoError(t, err)

	var result map[string]any
	require.NoError(t, json.Unmarshal(data, &result))
	assert.Equal(t, ErrCodeInternal, result["code"])
}

func TestFormatJSON_NilError(t *testing.T) {
	data, err := FormatJSON(nil)

	assert.NoError(t, err)
	assert.Equal(t, "null", strings.TrimSpace(string(data)))
}

func TestFormatForCLI_ShowsHintAndCode(t *testing.T) {
	// Given: a lock error
	err := LockError("/data/dropwatch.lock")

	// When: formatting for CLI
	result := FormatForCLI(err)

	// Then: message, hint and code are shown concisely
	assert.Contains(t, result, "another dropwatch instance is running")
	assert.Contains(t, result, "Hint:")
	assert.Contains(t, result, ErrCodeLocked)
	lines := strings.Split(strings.TrimSpace(result), "\n")
	assert.LessOrEqual(t, len(lines), 5)
}

func TestFormatForCLI_Nil(t *testing.T) {
	assert.Empty(t, FormatForCLI(nil))
}

func TestLogAttrs_DetailsAreSorted(t *testing.T) {
	// Given: an index error with two details
	err := IndexError("images", "images/photo.jpg", errors.New("closed"))

	// When: rendering attributes
	attrs := LogAttrs(err)

	// Then: code comes first, details follow in key order
	require.GreaterOrEqual(t, len(attrs), 6)
	assert.Equal(t, "error", attrs[0].Key)
	assert.Equal(t, ErrCodeIndex, attrs[1].Value.String())
	assert.Equal(t, "error_category", attrs[2].Key)
	assert.Equal(t, "bucket", attrs[4].Key)
	assert.Equal(t, "key", attrs[5].Key)
}

func TestLogAttrs_PlainError(t *testing.T) {
	attrs := LogAttrs(errors.New("plain"))

	require.Len(t, attrs, 1)
	assert.Equal(t, "error", attrs[0].Key)
	assert.Equal(t, slog.KindString, attrs[0].Value.Kind())
	assert.Equal(t, "plain", attrs[0].Value.String())
	assert.Nil(t, LogAttrs(nil))
}
