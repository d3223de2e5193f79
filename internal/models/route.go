package models

import "fmt"

// RouteName identifies a screen of the UI.
type RouteName string

const (
	RouteHome          RouteName = "home"
	RouteProfile       RouteName = "profile"
	RouteFriends       RouteName = "friends"
	RouteNotifications RouteName = "notifications"
	RouteChat          RouteName = "chat"
)

// Valid reports whether n is a known route.
func (n RouteName) Valid() bool {
	switch n {
	case RouteHome, RouteProfile, RouteFriends, RouteNotifications, RouteChat:
		return true
	}
	return false
}

// Route is the UI location last navigated to. It is transient UI state, kept
// only so that a restarted client reopens where it left off.
type Route struct {
	Name  RouteName `json:"name"`
	BoxID string    `json:"boxId,omitempty"`
}

// ParseRoute builds a route from its name, rejecting unknown screens.
func ParseRoute(name, boxID string) (Route, error) {
	r := Route{Name: RouteName(name), BoxID: boxID}
	if !r.Name.Valid() {
		return Route{}, fmt.Errorf("unknown route %q", name)
	}
	return r, nil
}

// Theme is the UI colour scheme.
type Theme string

const (
	ThemeLight Theme = "light"
	ThemeDark  Theme = "dark"
)

// Toggled returns the other theme.
func (t Theme) Toggled() Theme {
	if t == ThemeDark {
		return ThemeLight
	}
	return ThemeDark
}
