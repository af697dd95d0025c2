package login

// PageData encapsulates rendering state for the login screen.
type PageData struct {
	Lang       string
	AppName    string
	Title      string
	StaticPath string
	CSRFToken  string
	Next       string

	ScreenID   string
	Identifier string
	FieldsURL  string
	SubmitURL  string
	UnmountURL string

	Labels  Labels
	Message string
	Error   ErrorData
	Theme   ThemeData
	Signup  SignupData
	Contact ContactData
}

// Labels are the localized strings of the form.
type Labels struct {
	Heading  string
	Email    string
	Password string
	Submit   string
	Footer   string
}

// SignupData drives the self-registration slot. While Resolved is false the
// slot polls PollURL.
type SignupData struct {
	PollURL   string
	PollDelay string
	Resolved  bool
	Allowed   bool
	Href      string
	Label     string
}

// ThemeData drives the theme toggle button.
type ThemeData struct {
	Mode      string
	ToggleURL string
	Label     string
}

// Dark reports whether the dark mode is active.
func (t ThemeData) Dark() bool {
	return t.Mode == "dark"
}

// ErrorData is the banner shown after a failed sign-in. Empty Message renders
// an empty banner.
type ErrorData struct {
	Reason  string
	Message string
}

// ContactData is the static external contact link.
type ContactData struct {
	URL   string
	Label string
}

// HomeData renders the landing page after sign-in.
type HomeData struct {
	Lang        string
	AppName     string
	Title       string
	StaticPath  string
	Theme       string
	CSRFToken   string
	UID         string
	Email       string
	SignedInAs  string
	LogoutURL   string
	LogoutLabel string
}
