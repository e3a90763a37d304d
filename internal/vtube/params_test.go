package vtube

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"

	"github.com/ent0n29/vtutor/internal/protocol"
)

func TestDescriptorValidation(t *testing.T) {
	base := Descriptor{Name: "MouthLevel", Explanation: "ok", Min: 0, Max: 100, Default: 0}
	cases := []struct {
		name  string
		mut   func(d *Descriptor)
		field string
	}{
		{"name length 3", func(d *Descriptor) { d.Name = "abc" }, "name"},
		{"name length 33", func(d *Descriptor) { d.Name = strings.Repeat("a", 33) }, "name"},
		{"non alphanumeric", func(d *Descriptor) { d.Name = "mouth_open" }, "name"},
		{"explanation 256", func(d *Descriptor) { d.Explanation = strings.Repeat("x", 256) }, "explanation"},
		{"min below limit", func(d *Descriptor) { d.Min = -1_000_001 }, "min"},
		{"max above limit", func(d *Descriptor) { d.Max = 1_000_001 }, "max"},
		{"default above limit", func(d *Descriptor) { d.Default = 2_000_000; d.Max = 1_000_000 }, "default"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			d := base
			tc.mut(&d)
			err := d.Validate()
			require.ErrorIs(t, err, ErrValidation)
			var vErr *ValidationError
			require.ErrorAs(t, err, &vErr)
			require.Equal(t, tc.field, vErr.Field)
		})
	}

	ok := base
	ok.Name = "abcd"
	ok.Explanation = strings.Repeat("x", 255)
	ok.Min, ok.Max = -1_000_000, 1_000_000
	require.NoError(t, ok.Validate())
	ok.Name = strings.Repeat("Z", 32)
	require.NoError(t, ok.Validate())
}

func TestCreateRejectsInvalidWithoutNetwork(t *testing.T) {
	s := newScriptedSender()
	r, err := NewRegistry(nil, zerolog.Nop(), nil)
	require.NoError(t, err)

	err = r.Create(context.Background(), s, Descriptor{Name: "abc", Max: 1})
	require.ErrorIs(t, err, ErrValidation)
	require.Empty(t, s.sent)
}

func TestSetupRejectsInvalidBeforeListing(t *testing.T) {
	s := newScriptedSender()
	r, err := NewRegistry([]Descriptor{{Name: "Bad!", Max: 1}}, zerolog.Nop(), nil)
	require.NoError(t, err)

	require.ErrorIs(t, r.Setup(context.Background(), s), ErrValidation)
	require.Empty(t, s.sent)
}

func TestSetupCreatesOnlyMissing(t *testing.T) {
	s := newScriptedSender()
	s.reply(protocol.TypeInputParameterListRequest, protocol.TypeInputParameterListResponse, protocol.InputParameterListResponse{
		CustomParameters: []protocol.Parameter{{Name: "AlreadyThere"}},
	})
	s.reply(protocol.TypeParameterCreationRequest, protocol.TypeParameterCreationResponse, protocol.ParameterCreationResponse{ParameterName: SoundTrackerParameter})

	r, err := NewRegistry([]Descriptor{
		{Name: "AlreadyThere", Max: 1},
		DefaultProfile().Parameters[0],
	}, zerolog.Nop(), nil)
	require.NoError(t, err)
	require.NoError(t, r.Setup(context.Background(), s))

	require.Equal(t, []protocol.MessageType{protocol.TypeInputParameterListRequest, protocol.TypeParameterCreationRequest}, s.types())
	created := s.sent[1].Data.(protocol.ParameterCreationRequest)
	require.Equal(t, SoundTrackerParameter, created.ParameterName)
	require.Equal(t, "Tracks custom sound.", created.Explanation)
	require.Equal(t, 100.0, created.Max)
}

func TestSetIgnoresUnknownAndRejectsOutOfBounds(t *testing.T) {
	r, err := NewRegistry(DefaultProfile().Parameters, zerolog.Nop(), nil)
	require.NoError(t, err)

	require.NoError(t, r.Set("NoSuchParam", 5))
	_, ok := r.Value("NoSuchParam")
	require.False(t, ok)

	require.ErrorIs(t, r.Set(SoundTrackerParameter, -1), ErrValidation)
	require.ErrorIs(t, r.Set(SoundTrackerParameter, 100.5), ErrValidation)

	require.NoError(t, r.Set(SoundTrackerParameter, 42))
	v, _ := r.Value(SoundTrackerParameter)
	require.Equal(t, 42.0, v)
}

func TestNewRegistryRejectsDuplicates(t *testing.T) {
	d := DefaultProfile().Parameters[0]
	_, err := NewRegistry([]Descriptor{d, d}, zerolog.Nop(), nil)
	require.True(t, errors.Is(err, ErrValidation))
}

func TestInjectBatchesWholeTable(t *testing.T) {
	s := newScriptedSender()
	s.reply(protocol.TypeInjectParameterDataRequest, protocol.TypeInjectParameterDataResponse, struct{}{})
	r, err := NewRegistry([]Descriptor{
		DefaultProfile().Parameters[0],
		{Name: "EyeWiden", Min: -1, Max: 1, Default: 0.5},
	}, zerolog.Nop(), nil)
	require.NoError(t, err)
	require.NoError(t, r.Set(SoundTrackerParameter, 60))

	require.NoError(t, r.Inject(context.Background(), s))
	req := s.sent[0].Data.(protocol.InjectParameterDataRequest)
	require.False(t, req.FaceFound)
	require.Equal(t, "set", req.Mode)
	require.Equal(t, []protocol.ParameterValue{
		{ID: SoundTrackerParameter, Value: 60},
		{ID: "EyeWiden", Value: 0.5},
	}, req.ParameterValues)
}

func TestLiveValuesQueriesSequentially(t *testing.T) {
	s := newScriptedSender()
	s.reply(protocol.TypeParameterValueRequest, protocol.TypeParameterValueResponse, protocol.Parameter{Name: SoundTrackerParameter, Value: 12})
	s.reply(protocol.TypeParameterValueRequest, protocol.TypeParameterValueResponse, protocol.Parameter{Name: "EyeWiden", Value: 0.25})
	r, err := NewRegistry([]Descriptor{
		DefaultProfile().Parameters[0],
		{Name: "EyeWiden", Min: -1, Max: 1},
	}, zerolog.Nop(), nil)
	require.NoError(t, err)

	got, err := r.LiveValues(context.Background(), s)
	require.NoError(t, err)
	require.Equal(t, map[string]float64{SoundTrackerParameter: 12, "EyeWiden": 0.25}, got)
	require.Len(t, s.sent, 2)
	require.Equal(t, "EyeWiden", s.sent[1].Data.(protocol.ParameterValueRequest).Name)
}

func TestParseProfile(t *testing.T) {
	p, err := ParseProfile([]byte(`
parameters:
  - name: MouthOpenLevel
    explanation: Mouth driven by speech loudness.
    min: 0
    max: 100
    default: 0
expressions:
  smile: hk-smile
`))
	require.NoError(t, err)
	require.True(t, p.Has("MouthOpenLevel"))
	require.Equal(t, "hk-smile", p.Expressions["smile"])

	_, err = ParseProfile([]byte("parameters:\n  - name: x\n    max: 1\n"))
	require.ErrorIs(t, err, ErrValidation)

	p, err = ParseProfile([]byte("expressions: {}\n"))
	require.NoError(t, err)
	require.True(t, p.Has(SoundTrackerParameter), "empty parameter list falls back to the built-in tracker")
}
