package notify

import (
	"fmt"

	"github.com/vfms/fleet-identity-api/shared/mailer"
)

// EmailNotifier delivers lifecycle notifications over SMTP. It satisfies the
// usecase Notifier interface.
type EmailNotifier struct {
	mailer     *mailer.Mailer
	appBaseURL string
}

// NewEmailNotifier creates an EmailNotifier. appBaseURL is the frontend base
// used to build verification links.
func NewEmailNotifier(m *mailer.Mailer, appBaseURL string) *EmailNotifier {
	return &EmailNotifier{
		mailer:     m,
		appBaseURL: appBaseURL,
	}
}

// SendVerificationEmail mails the self-signup confirmation link.
func (n *EmailNotifier) SendVerificationEmail(email, name, verificationToken string) error {
	link := fmt.Sprintf("%s/auth/verify-email?token=%s", n.appBaseURL, verificationToken)
	body := fmt.Sprintf(
		"Hello %s,\n\nPlease click the following link to verify your email:\n\n%s\n\nThis link will expire in 24 hours.",
		name, link,
	)

	return n.mailer.SendSimple([]string{email}, "Verify Your Email - Fleet Management", body)
}

// SendPasswordResetOTP mails the recovery code issued by forgot-password.
func (n *EmailNotifier) SendPasswordResetOTP(email, name, otp string) error {
	htmlBody := fmt.Sprintf(`
		<div style="font-family: Arial, sans-serif; max-width: 600px; margin: 0 auto; padding: 20px;">
			<h2 style="color: #0f172a; text-align: center;">Password Reset Code</h2>
			<p>Hello %s,</p>
			<p>You requested to reset your password. Use the following code to verify your identity:</p>
			<div style="text-align: center; margin: 30px 0;">
				<span style="font-size: 24px; letter-spacing: 5px; font-weight: bold;">%s</span>
			</div>
			<p style="text-align: center;">This code will expire in 15 minutes.</p>
		</div>
	`, name, otp)

	return n.mailer.SendHTML([]string{email}, "Your Verification Code - Fleet Management", htmlBody)
}
