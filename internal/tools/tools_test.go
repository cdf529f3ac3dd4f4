package tools

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func fixedNow() time.Time {
	return time.Date(2025, time.March, 7, 15, 4, 5, 0, time.UTC)
}

func decodeError(t *testing.T, out string) errorPayload {
	t.Helper()
	var p errorPayload
	require.NoError(t, json.Unmarshal([]byte(out), &p))
	return p
}

func TestDateTool_Formats(t *testing.T) {
	d := NewDateTool(fixedNow)
	cases := map[string]string{
		`{"date_format":"%Y-%m-%d"}`: "2025-03-07",
		`{"date_format":"%d"}`:       "07",
		`{"date_format":"%m"}`:       "03",
		`{"date_format":"%Y"}`:       "2025",
		`{}`:                         "2025-03-07",
	}
	for args, want := range cases {
		got, err := d.Call(context.Background(), json.RawMessage(args))
		require.NoError(t, err, args)
		require.Equal(t, want, got, args)
	}

	_, err := d.Call(context.Background(), json.RawMessage(`{"date_format":"%H"}`))
	require.ErrorContains(t, err, "unsupported")
}

func TestRegistry_InvokeSuccess(t *testing.T) {
	r, err := NewRegistry(NewDateTool(fixedNow))
	require.NoError(t, err)

	out, isErr := r.Invoke(context.Background(), DateToolName, `{"date_format":"%Y"}`)
	require.False(t, isErr)
	require.Equal(t, `"2025"`, out)
}

func TestRegistry_InvokeErrors(t *testing.T) {
	r, err := NewRegistry(NewDateTool(fixedNow))
	require.NoError(t, err)

	out, isErr := r.Invoke(context.Background(), "get_weather", `{"city":"Paris"}`)
	require.True(t, isErr)
	p := decodeError(t, out)
	require.Equal(t, "Tool 'get_weather' not found or not callable.", p.Error)
	require.Equal(t, map[string]any{"city": "Paris"}, p.Arguments)

	out, isErr = r.Invoke(context.Background(), DateToolName, `{"date_format":`)
	require.True(t, isErr)
	require.Contains(t, decodeError(t, out).Error, "Exception in handling tool 'get_todays_date'")

	out, isErr = r.Invoke(context.Background(), DateToolName, `{"date_format":"%H"}`)
	require.True(t, isErr)
	require.Contains(t, decodeError(t, out).Error, "unsupported date_format")
}

func TestRegistry_RejectsDuplicates(t *testing.T) {
	_, err := NewRegistry(NewDateTool(nil), NewDateTool(nil))
	require.ErrorContains(t, err, "duplicate")
}

func TestRegistry_SpecsInOrder(t *testing.T) {
	ct, err := NewCodexTool(&fakeQuerier{})
	require.NoError(t, err)
	r, err := NewRegistry(NewDateTool(nil), ct)
	require.NoError(t, err)

	specs := r.Specs()
	require.Len(t, specs, 2)
	require.Equal(t, DateToolName, specs[0].Name)
	require.Equal(t, CodexToolName, specs[1].Name)
	require.True(t, json.Valid(specs[0].Parameters))
	require.True(t, json.Valid(specs[1].Parameters))
	require.True(t, r.Has(CodexToolName))

	var nilRegistry *Registry
	require.Empty(t, nilRegistry.Specs())
	require.False(t, nilRegistry.Has(DateToolName))
}

type fakeQuerier struct {
	answer string
	ok     bool
	err    error
	asked  string
}

func (f *fakeQuerier) Query(_ context.Context, q string) (string, bool, error) {
	f.asked = q
	return f.answer, f.ok, f.err
}

func TestCodexTool(t *testing.T) {
	q := &fakeQuerier{answer: "Returns are accepted within 30 days.", ok: true}
	ct, err := NewCodexTool(q)
	require.NoError(t, err)

	got, err := ct.Call(context.Background(), json.RawMessage(`{"question":"Can I return it?"}`))
	require.NoError(t, err)
	require.Equal(t, "Returns are accepted within 30 days.", got)
	require.Equal(t, "Can I return it?", q.asked)

	q.ok = false
	got, err = ct.Call(context.Background(), json.RawMessage(`{"question":"Unknown?"}`))
	require.NoError(t, err)
	require.Equal(t, NoExpertAnswer, got)

	_, err = ct.Call(context.Background(), json.RawMessage(`{}`))
	require.ErrorContains(t, err, "question is required")

	q.err = errors.New("codex down")
	_, err = ct.Call(context.Background(), json.RawMessage(`{"question":"x"}`))
	require.ErrorContains(t, err, "codex down")

	_, err = NewCodexTool(nil)
	require.Error(t, err)
}
