package appstate

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestReduce(t *testing.T) {
	state := Reduce(State{}, SelectSchool{SchoolKey: " GamersClub "})
	assert.Equal(t, "gamersclub", state.SchoolKey)

	state = Reduce(state, SelectCourse{CourseID: "course-1"})
	assert.Equal(t, "course-1", state.CourseID)

	same := Reduce(state, SelectSchool{SchoolKey: "gamersclub"})
	assert.Equal(t, "course-1", same.CourseID, "reselecting the same school keeps the course")

	state = Reduce(state, SelectSchool{SchoolKey: "other"})
	assert.Empty(t, state.CourseID)

	state = Reduce(state, ToggleDarkMode{})
	assert.True(t, state.DarkMode)
	state = Reduce(state, SetDarkMode{Enabled: false})
	assert.False(t, state.DarkMode)

	state = Reduce(State{SchoolKey: "x", CourseID: "y", DarkMode: true}, Reset{})
	assert.Equal(t, State{DarkMode: true}, state)
	assert.Equal(t, State{SchoolKey: "x"}, Reduce(State{SchoolKey: "x", CourseID: "y"}, ClearCourse{}))
}

func TestDecodeAction(t *testing.T) {
	action, err := DecodeAction([]byte(`{"type":"select_course","courseId":"c9"}`))
	require.NoError(t, err)
	assert.Equal(t, SelectCourse{CourseID: "c9"}, action)

	action, err = DecodeAction([]byte(`{"type":"toggle_dark_mode"}`))
	require.NoError(t, err)
	assert.Equal(t, ToggleDarkMode{}, action)

	_, err = DecodeAction([]byte(`{"type":"drop_tables"}`))
	assert.True(t, errors.Is(err, ErrUnknownAction))

	_, err = DecodeAction([]byte(`not json`))
	assert.Error(t, err)
}

func TestRedisStoreApply(t *testing.T) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { client.Close() })
	store := NewRedisStore(client, time.Hour)
	ctx := context.Background()

	state, err := store.Load(ctx, "browser-1")
	require.NoError(t, err)
	assert.Equal(t, State{}, state)

	state, err = Apply(ctx, store, "browser-1", SelectSchool{SchoolKey: "gamersclub"})
	require.NoError(t, err)
	assert.Equal(t, "gamersclub", state.SchoolKey)
	assert.True(t, mr.Exists("app_state:browser-1"))
	assert.Equal(t, time.Hour, mr.TTL("app_state:browser-1"))

	loaded, err := store.Load(ctx, "browser-1")
	require.NoError(t, err)
	assert.Equal(t, state, loaded)

	other, err := store.Load(ctx, "browser-2")
	require.NoError(t, err)
	assert.Equal(t, State{}, other)
}

func TestSections(t *testing.T) {
	for _, s := range Sections() {
		parsed, err := ParseSection(string(s))
		require.NoError(t, err)
		assert.Equal(t, s, parsed)
	}
	s, err := ParseSection("")
	require.NoError(t, err)
	assert.Equal(t, SectionOverview, s)

	_, err = ParseSection("billing-admin")
	assert.ErrorIs(t, err, ErrUnknownSection)
}
