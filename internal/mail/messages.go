package mail

import (
	"fmt"
	"html"
	"net/url"
)

// ConfirmationMessage builds the email-confirmation mail. The callback lands
// on the frontend's confirmEmail page, which posts the code back to the API.
func ConfirmationMessage(hostURL, accountID, code, returnURL string) (subject, body string) {
	callback := fmt.Sprintf("%s/confirmEmail?%s", hostURL, url.Values{
		"userId":    {accountID},
		"code":      {code},
		"returnUrl": {returnURL},
	}.Encode())

	subject = "Confirm your email"
	body = fmt.Sprintf(`To confirm your account <a href='%s'>click here</a>.`, html.EscapeString(callback))
	return subject, body
}

// ResetMessage builds the password-reset mail pointing at the frontend's
// resetPassword page.
func ResetMessage(hostURL, email, code string) (subject, body string) {
	callback := fmt.Sprintf("%s/resetPassword?%s", hostURL, url.Values{
		"email": {email},
		"code":  {code},
	}.Encode())

	subject = "Reset your password"
	body = fmt.Sprintf(`To reset your password <a href='%s'>click here</a>.`, html.EscapeString(callback))
	return subject, body
}

// PhoneChangeMessage carries the short code confirming a phone number change.
func PhoneChangeMessage(newPhone, code string) (subject, body string) {
	subject = "Confirm your phone number"
	body = fmt.Sprintf(`Your confirmation code for %s is <b>%s</b>.`,
		html.EscapeString(newPhone), html.EscapeString(code))
	return subject, body
}
