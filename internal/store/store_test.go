package store

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/cbegin/seqstudio-go/internal/track"
)

func TestDefaults(t *testing.T) {
	st := New().Snapshot()
	assert.Equal(t, 90.0, st.Tempo)
	assert.Equal(t, 1.0, st.MasterVolume)
	assert.Equal(t, 1.0, st.StartMarker)
	assert.False(t, st.SampleLoading)
}

func TestSetTempoRejectsInvalid(t *testing.T) {
	s := New()
	v := s.Version()
	for _, bpm := range []float64{0, -10} {
		assert.ErrorIs(t, s.SetTempo(bpm), ErrInvalidTempo)
	}
	assert.Equal(t, 90.0, s.Tempo())
	assert.Equal(t, v, s.Version(), "rejected mutation must not bump version")

	require.NoError(t, s.SetTempo(120))
	assert.Equal(t, 120.0, s.Tempo())
	assert.Greater(t, s.Version(), v)
}

func TestMasterVolumeClamped(t *testing.T) {
	s := New()
	s.SetMasterVolume(3)
	assert.Equal(t, 1.0, s.Snapshot().MasterVolume)
	s.SetMasterVolume(-1)
	assert.Equal(t, 0.0, s.Snapshot().MasterVolume)
}

func TestStartMarker(t *testing.T) {
	s := New()
	assert.ErrorIs(t, s.SetStartMarker(0.5), ErrInvalidMarker)
	require.NoError(t, s.SetStartMarker(5))
	assert.Equal(t, 5.0, s.Snapshot().StartMarker)
}

func TestSnapshotIsDeepCopy(t *testing.T) {
	s := New()
	require.NoError(t, s.SetTracks([]track.Track{{
		ID: "a", Gain: 1,
		Notes: []track.Note{{Start: 1, Duration: 1, Pitch: 60, Velocity: 1}},
	}}))
	snap := s.Snapshot()
	snap.Tracks[0].Notes[0].Pitch = 10
	snap.Tracks[0].Mute = true
	again := s.Snapshot()
	assert.Equal(t, 60, again.Tracks[0].Notes[0].Pitch)
	assert.False(t, again.Tracks[0].Mute)
}

func TestSetTracksSortsAndStamps(t *testing.T) {
	s := New()
	s.SetInstruments([]track.Instrument{{ID: "lead", Kind: track.Synth}})
	require.NoError(t, s.SetTracks([]track.Track{{
		ID: "a", Instrument: "lead", Gain: 1,
		Notes: []track.Note{
			{Start: 3, Duration: 1, Pitch: 62, Velocity: 1},
			{Start: 1, Duration: 1, Pitch: 60, Velocity: 1},
		},
	}}))
	tr, ok := s.Snapshot().Track("a")
	require.True(t, ok)
	assert.True(t, tr.Sorted())
	for _, n := range tr.Notes {
		assert.Equal(t, track.Synth, n.Type)
	}
}

func TestSetTracksRejectsBadNote(t *testing.T) {
	s := New()
	err := s.SetTracks([]track.Track{{ID: "a", Notes: []track.Note{{Start: 0, Duration: 1}}}})
	assert.ErrorIs(t, err, track.ErrInvalidNote)
	assert.Empty(t, s.Snapshot().Tracks)
}

func TestPutRemoveAndMutateTrack(t *testing.T) {
	s := New()
	require.NoError(t, s.PutTrack(track.Track{ID: "a", Gain: 1}))
	require.NoError(t, s.PutTrack(track.Track{ID: "b", Gain: 1}))
	require.NoError(t, s.PutTrack(track.Track{ID: "a", Gain: 0.5}))
	st := s.Snapshot()
	require.Len(t, st.Tracks, 2)
	assert.Equal(t, 0.5, st.Tracks[0].Gain)

	require.NoError(t, s.SetMute("a", true))
	require.NoError(t, s.SetSolo("b", true))
	require.NoError(t, s.SetGain("b", -2))
	require.NoError(t, s.AddNote("b", track.Note{Start: 2, Duration: 1, Pitch: 64, Velocity: 1}))
	require.NoError(t, s.AddNote("b", track.Note{Start: 1, Duration: 1, Pitch: 60, Velocity: 1}))
	st = s.Snapshot()
	assert.True(t, st.Tracks[0].Mute)
	assert.True(t, st.Tracks[1].Solo)
	assert.Equal(t, 0.0, st.Tracks[1].Gain)
	assert.Equal(t, 1.0, st.Tracks[1].Notes[0].Start)

	assert.ErrorIs(t, s.SetMute("zzz", true), ErrUnknownTrack)
	require.NoError(t, s.RemoveTrack("a"))
	assert.ErrorIs(t, s.RemoveTrack("a"), ErrUnknownTrack)
	assert.Len(t, s.Snapshot().Tracks, 1)
}

func TestLoadProjectKeepsLoadingFlag(t *testing.T) {
	p, err := track.ParseProject([]byte(`
tempo: 120
start_marker: 3
instruments:
  - id: kick
    kind: sampler
    path: kick.wav
tracks:
  - id: drums
    instrument: kick
    notes:
      - {start: 1, duration: 0.5, pitch: 36}
`))
	require.NoError(t, err)

	s := New()
	s.SetSampleLoading(true)
	require.NoError(t, s.LoadProject(p))
	st := s.Snapshot()
	assert.True(t, st.SampleLoading)
	assert.Equal(t, 120.0, st.Tempo)
	assert.Equal(t, 3.0, st.StartMarker)
	assert.Equal(t, track.Sampler, st.Tracks[0].Notes[0].Type)
	assert.Equal(t, 1.5, st.EndBeat())

	out := s.Project()
	assert.Equal(t, "kick", out.Instruments[0].ID)
}
