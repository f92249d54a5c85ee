// Package appstate holds the per-browser selection state (school, course,
// dark mode). It changes only through the closed set of actions below.
package appstate

import (
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

var ErrUnknownAction = errors.New("unknown action")

type State struct {
	SchoolKey string `json:"schoolKey,omitempty"`
	CourseID  string `json:"courseId,omitempty"`
	DarkMode  bool   `json:"darkMode"`
}

// Action is implemented only by the types in this package.
type Action interface {
	kind() string
}

type SelectSchool struct {
	SchoolKey string `json:"schoolKey"`
}

type SelectCourse struct {
	CourseID string `json:"courseId"`
}

type ClearCourse struct{}

type SetDarkMode struct {
	Enabled bool `json:"enabled"`
}

type ToggleDarkMode struct{}

type Reset struct{}

func (SelectSchool) kind() string   { return "select_school" }
func (SelectCourse) kind() string   { return "select_course" }
func (ClearCourse) kind() string    { return "clear_course" }
func (SetDarkMode) kind() string    { return "set_dark_mode" }
func (ToggleDarkMode) kind() string { return "toggle_dark_mode" }
func (Reset) kind() string          { return "reset" }

// Reduce returns the next state. Changing school drops the selected course.
func Reduce(state State, action Action) State {
	switch a := action.(type) {
	case SelectSchool:
		key := strings.ToLower(strings.TrimSpace(a.SchoolKey))
		if key != state.SchoolKey {
			state.CourseID = ""
		}
		state.SchoolKey = key
	case SelectCourse:
		state.CourseID = strings.TrimSpace(a.CourseID)
	case ClearCourse:
		state.CourseID = ""
	case SetDarkMode:
		state.DarkMode = a.Enabled
	case ToggleDarkMode:
		state.DarkMode = !state.DarkMode
	case Reset:
		state = State{DarkMode: state.DarkMode}
	}
	return state
}

// DecodeAction reads {"type": "...", ...} into one of the action types.
func DecodeAction(raw []byte) (Action, error) {
	var envelope struct {
		Type string `json:"type"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return nil, err
	}
	var action Action
	var err error
	switch envelope.Type {
	case "select_school":
		var a SelectSchool
		err = json.Unmarshal(raw, &a)
		action = a
	case "select_course":
		var a SelectCourse
		err = json.Unmarshal(raw, &a)
		action = a
	case "clear_course":
		action = ClearCourse{}
	case "set_dark_mode":
		var a SetDarkMode
		err = json.Unmarshal(raw, &a)
		action = a
	case "toggle_dark_mode":
		action = ToggleDarkMode{}
	case "reset":
		action = Reset{}
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnknownAction, envelope.Type)
	}
	if err != nil {
		return nil, err
	}
	return action, nil
}
