package app

// User is the profile shown on /account, taken from the ID token claims.
type User struct {
	// Unique user ID in the identity provider.
	ID string `json:"id"`

	// User's preferred username, often used for display.
	Username string `json:"username"`

	Picture string `json:"picture"`

	// User's email address.
	Email string `json:"email"`

	// User's display name.
	Name string `json:"name"`
}

// Caller is the authenticated identity behind a request.
type Caller struct {
	UserID string `json:"user_id"`
	// Staff callers may read any image.
	Staff bool `json:"staff"`
}
