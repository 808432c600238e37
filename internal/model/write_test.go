package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParsePolicy(t *testing.T) {
	tests := []struct {
		name    string
		input   string
		want    WritePolicy
		wantErr bool
	}{
		{name: "empty defaults to require_local", input: "", want: PolicyRequireLocal},
		{name: "require_local", input: "require_local", want: PolicyRequireLocal},
		{name: "local alias", input: "local", want: PolicyRequireLocal},
		{name: "require_all", input: "require_all", want: PolicyRequireAll},
		{name: "all alias", input: "all", want: PolicyRequireAll},
		{name: "require_any", input: "require_any", want: PolicyRequireAny},
		{name: "any alias", input: "any", want: PolicyRequireAny},
		{name: "unknown", input: "quorum", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParsePolicy(tt.input)
			if tt.wantErr {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestWritePolicy_Mandatory(t *testing.T) {
	assert.True(t, PolicyRequireAll.Mandatory(RoleLocal))
	assert.True(t, PolicyRequireAll.Mandatory(RoleShared))

	assert.True(t, PolicyRequireLocal.Mandatory(RoleLocal))
	assert.False(t, PolicyRequireLocal.Mandatory(RoleShared))

	assert.False(t, PolicyRequireAny.Mandatory(RoleLocal))
	assert.False(t, PolicyRequireAny.Mandatory(RoleShared))
}

func TestMetadata_OrderPreservedAcrossJSON(t *testing.T) {
	in := Metadata{
		{Key: "zeta", Value: "1"},
		{Key: "alpha", Value: "2"},
		{Key: "mid", Value: "3"},
	}

	data, err := json.Marshal(in)
	require.NoError(t, err)
	assert.Equal(t, `{"zeta":"1","alpha":"2","mid":"3"}`, string(data))

	var out Metadata
	require.NoError(t, json.Unmarshal(data, &out))
	assert.Equal(t, in, out)

	v, ok := out.Get("alpha")
	assert.True(t, ok)
	assert.Equal(t, "2", v)

	_, ok = out.Get("missing")
	assert.False(t, ok)
}

func TestMetadata_SetReplacesOrAppends(t *testing.T) {
	md := Metadata{{Key: "written_by", Value: "savings"}}

	md = md.Set("written_by", "corebank")
	md = md.Set("team", "payments")

	require.Len(t, md, 2)
	v, ok := md.Get("written_by")
	assert.True(t, ok)
	assert.Equal(t, "corebank", v)
	v, ok = md.Get("team")
	assert.True(t, ok)
	assert.Equal(t, "payments", v)
}

func TestMetadata_UnmarshalRejectsNonObject(t *testing.T) {
	var m Metadata
	assert.Error(t, json.Unmarshal([]byte(`["a","b"]`), &m))
	assert.Error(t, json.Unmarshal([]byte(`{"k":42}`), &m))
}

func TestWriteRequest_PayloadRawWithoutMetadata(t *testing.T) {
	content := []byte("raw bytes, not JSON")
	req := &WriteRequest{Key: "plain.txt", Content: content}

	payload, err := req.Payload()
	require.NoError(t, err)
	assert.Equal(t, content, payload)
}

func TestWriteRequest_PayloadEnvelopeWithMetadata(t *testing.T) {
	req := &WriteRequest{
		Key:     "report.txt",
		Content: []byte("hello"),
		Metadata: Metadata{
			{Key: "written_by", Value: "savings"},
			{Key: "team", Value: "payments"},
		},
	}

	payload, err := req.Payload()
	require.NoError(t, err)

	want := "{\n" +
		"  \"content\": \"hello\",\n" +
		"  \"metadata\": {\n" +
		"    \"written_by\": \"savings\",\n" +
		"    \"team\": \"payments\"\n" +
		"  }\n" +
		"}\n"
	assert.Equal(t, want, string(payload))

	// Encoding must be deterministic so every target stores identical bytes.
	again, err := req.Payload()
	require.NoError(t, err)
	assert.Equal(t, payload, again)
}
