package handler

import (
	"fmt"
	"net/http"
	"strings"
)

// jsStringEscaper はJavaScriptの二重引用符文字列リテラルに埋め込む値をエスケープする。
// <はインラインの<script>内でも</script>として解釈されないよう\u003cにする。
var jsStringEscaper = strings.NewReplacer(
	`\`, `\\`,
	`"`, `\"`,
	"\n", `\n`,
	"\r", `\r`,
	"<", `\u003c`,
)

// NewConfigJSHandler はフロントエンド向けのconfig.jsを返すハンドラーを生成する。
// 値は起動時に確定するため、本文は生成時に1度だけ組み立てる。
// GET /config.js
func NewConfigJSHandler(apiBaseURL, trackerAppURL string) http.HandlerFunc {
	body := []byte(fmt.Sprintf("window.TRACKER_API_BASE = \"%s\";\nwindow.TRACKER_APP_URL = \"%s\";\n",
		jsStringEscaper.Replace(apiBaseURL),
		jsStringEscaper.Replace(trackerAppURL),
	))

	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/javascript; charset=utf-8")
		w.Header().Set("Cache-Control", "no-cache")
		w.WriteHeader(http.StatusOK)
		w.Write(body)
	}
}
