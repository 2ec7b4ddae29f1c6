package email

import (
	"bytes"
	"fmt"
	"html/template"
)

const (
	// CredentialEmailSubject は認証情報メールの件名。
	CredentialEmailSubject = "Your Progress Tracker login — The Bodyweight Gym"
	// DefaultLoginURL はログインリンクが決まらない場合のプレースホルダー。
	DefaultLoginURL = "https://your-tracker-url.com/login"
)

var credentialTemplate = template.Must(template.New("credential").Parse(`<!DOCTYPE html>
<html lang="en">
<head>
<meta charset="utf-8">
<meta name="viewport" content="width=device-width, initial-scale=1.0">
<title>Your Progress Tracker login</title>
</head>
<body style="margin:0;padding:0;font-family:'Source Sans 3',-apple-system,BlinkMacSystemFont,sans-serif;background:#0a0a0a;color:#f0ede8;">
<table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="background:#0a0a0a;">
<tr><td style="padding:40px 20px;">
<table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="max-width:520px;margin:0 auto;background:#1a1a1a;border:1px solid rgba(255,255,255,0.06);border-radius:8px;">
<tr><td style="padding:40px 32px;">
<p style="margin:0 0 24px 0;font-size:11px;font-weight:600;letter-spacing:0.2em;text-transform:uppercase;color:#c8a55c;">The Bodyweight Gym</p>
<h1 style="margin:0 0 8px 0;font-size:24px;font-weight:800;color:#f0ede8;">Your Progress Tracker is ready</h1>
<p style="margin:0 0 28px 0;font-size:16px;line-height:1.6;color:#8a857d;">Hi {{.Name}},</p>
<p style="margin:0 0 24px 0;font-size:16px;line-height:1.6;color:#f0ede8;">Use the button below to open the Progress Tracker. You'll log in with your email and the temporary password below, then set a new password on first sign-in.</p>
<table role="presentation" cellspacing="0" cellpadding="0" style="margin:0 0 28px 0;">
<tr><td>
<a href="{{.LoginURL}}" style="display:inline-block;padding:14px 28px;background:#c8a55c;color:#0a0a0a !important;font-size:14px;font-weight:700;letter-spacing:0.06em;text-transform:uppercase;text-decoration:none;border-radius:4px;">Set your password &amp; log in</a>
</td></tr>
</table>
<table role="presentation" width="100%" cellspacing="0" cellpadding="0" style="background:rgba(200,165,92,0.1);border:1px solid rgba(200,165,92,0.2);border-radius:4px;">
<tr><td style="padding:20px;">
<p style="margin:0 0 8px 0;font-size:11px;font-weight:600;letter-spacing:0.08em;text-transform:uppercase;color:#8a857d;">Your login details</p>
<p style="margin:0 0 4px 0;font-size:15px;color:#f0ede8;"><strong>Email:</strong> {{.Email}}</p>
<p style="margin:0;font-size:15px;color:#f0ede8;"><strong>Temporary password:</strong> <code style="background:rgba(0,0,0,0.2);padding:2px 8px;border-radius:2px;">{{.TemporaryPassword}}</code></p>
</td></tr>
</table>
<p style="margin:24px 0 0 0;font-size:14px;line-height:1.5;color:#8a857d;">If the button doesn't work, copy and paste this link into your browser:</p>
<p style="margin:4px 0 0 0;font-size:14px;"><a href="{{.LoginURL}}" style="color:#d4b76a;text-decoration:underline;">{{.LoginURL}}</a></p>
<p style="margin:32px 0 0 0;font-size:14px;color:#8a857d;">The Bodyweight Gym</p>
</td></tr>
</table>
</td></tr>
</table>
</body>
</html>`))

const credentialTextFormat = `The Bodyweight Gym - Your Progress Tracker is ready

Hi %s,

Use the link below to open the Progress Tracker. Log in with your email and the temporary password below. You'll be asked to set a new password on first sign-in.

Set your password & log in: %s

Your login details:
Email: %s
Temporary password: %s

If the link doesn't work, copy and paste it into your browser: %s

The Bodyweight Gym`

// CredentialEmailData は認証情報メールのテンプレートデータ。
type CredentialEmailData struct {
	Name              string
	Email             string
	TemporaryPassword string
	LoginURL          string
}

// RenderCredentialEmail は認証情報メールのHTML本文とテキスト本文を生成する。
// HTML本文ではテンプレートのエスケープが適用され、テキスト本文は入力をそのまま埋め込む。
// LoginURLが空の場合はDefaultLoginURLを使う。
func RenderCredentialEmail(data CredentialEmailData) (html, text string, err error) {
	if data.LoginURL == "" {
		data.LoginURL = DefaultLoginURL
	}

	var buf bytes.Buffer
	if err := credentialTemplate.Execute(&buf, data); err != nil {
		return "", "", fmt.Errorf("認証情報メールのテンプレート展開に失敗しました: %w", err)
	}

	text = fmt.Sprintf(credentialTextFormat,
		data.Name, data.LoginURL, data.Email, data.TemporaryPassword, data.LoginURL)

	return buf.String(), text, nil
}
