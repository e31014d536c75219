package auth_test

import (
	"encoding/base64"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func mustBase64Decode(t *testing.T, s string) []byte {
	t.Helper()
	raw, err := base64.StdEncoding.DecodeString(s)
	require.NoError(t, err)
	return raw
}

func mustBase64Encode(raw []byte) string {
	return base64.StdEncoding.EncodeToString(raw)
}

func replaceJSONString(t *testing.T, raw []byte, field, value string) []byte {
	t.Helper()
	var m map[string]interface{}
	require.NoError(t, json.Unmarshal(raw, &m))
	m[field] = value
	out, err := json.Marshal(m)
	require.NoError(t, err)
	return out
}
