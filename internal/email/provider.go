// Package email は認証情報メールの組み立てと、ResendおよびSendGridによる送信を提供する。
package email

import "strings"

// Provider はメール送信プロバイダーを表す。
type Provider string

const (
	// ProviderNone は利用可能なプロバイダーがないことを表す。
	ProviderNone Provider = ""
	// ProviderResend はResend HTTP APIを表す。
	ProviderResend Provider = "resend"
	// ProviderSendGrid はSendGrid v3 Mail Send APIを表す。
	ProviderSendGrid Provider = "sendgrid"
)

// String はログ出力用の名前を返す。
func (p Provider) String() string {
	if p == ProviderNone {
		return "none"
	}
	return string(p)
}

// SelectProvider は設定から使用するプロバイダーを決定する。
// 優先指定がsendgrid（大文字小文字を区別しない）かつSendGridのキーがあればSendGrid、
// そうでなければResendのキーがあればResend、SendGridのキーのみあればSendGridを選ぶ。
// どちらのキーもなければProviderNoneを返す。
func SelectProvider(preference string, hasResend, hasSendGrid bool) Provider {
	if strings.EqualFold(strings.TrimSpace(preference), string(ProviderSendGrid)) && hasSendGrid {
		return ProviderSendGrid
	}
	if hasResend {
		return ProviderResend
	}
	if hasSendGrid {
		return ProviderSendGrid
	}
	return ProviderNone
}
