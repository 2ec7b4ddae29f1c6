package handler

import (
	"errors"
	"io/fs"
	"log/slog"
	"net/http"
	"os"
	"path"
	"strings"
)

// friendlyRoutes は拡張子なしのURLを含む、ページへの固定ルート。
var friendlyRoutes = map[string]string{
	"/":               "index.html",
	"/index.html":     "index.html",
	"/about":          "about.html",
	"/about.html":     "about.html",
	"/thank-you":      "thank-you.html",
	"/thank-you.html": "thank-you.html",
	"/ebook.html":     "ebook.html",
}

// imagesPrefix 以下は assets/images/ 以下のファイルとして解決する。
const imagesPrefix = "/images/"

// StaticServer は静的なマーケティングページと画像を配信する。
// ディレクトリ一覧とドットファイルは配信しない。
type StaticServer struct {
	root string
}

// NewStaticServer はrootディレクトリを配信するStaticServerを生成する。
func NewStaticServer(root string) *StaticServer {
	if root == "" {
		root = "."
	}
	return &StaticServer{root: root}
}

// ServeHTTP はリクエストパスに対応するファイルを返す。
func (s *StaticServer) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet && r.Method != http.MethodHead {
		http.NotFound(w, r)
		return
	}

	// ルート判定はすべて正規化後のパスで行う（/x/../api/... や //api/... を含む）
	p := path.Clean("/" + r.URL.Path)

	// /api/ 以下のソースファイルは存在の有無にかかわらず返さない
	if strings.HasPrefix(p, "/api/") && path.Ext(p) != "" {
		http.NotFound(w, r)
		return
	}

	if name, ok := friendlyRoutes[p]; ok {
		s.serveFile(w, r, name)
		return
	}

	name, ok := resolve(p)
	if !ok {
		http.NotFound(w, r)
		return
	}
	s.serveFile(w, r, name)
}

// resolve は正規化済みのURLパスをroot相対のファイル名に変換する。
// ドットで始まるセグメントを含む場合はfalseを返す。
func resolve(clean string) (string, bool) {
	for _, seg := range strings.Split(clean, "/") {
		if strings.HasPrefix(seg, ".") {
			return "", false
		}
	}

	if strings.HasPrefix(clean, imagesPrefix) {
		return path.Join("assets/images", strings.TrimPrefix(clean, imagesPrefix)), true
	}
	if clean == "/" {
		return "index.html", true
	}
	return strings.TrimPrefix(clean, "/"), true
}

// serveFile はroot内のファイルを返す。ディレクトリの場合はその中のindex.htmlを返す。
func (s *StaticServer) serveFile(w http.ResponseWriter, r *http.Request, name string) {
	f, info, err := s.open(name)
	if err == nil && info.IsDir() {
		f.Close()
		f, info, err = s.open(path.Join(name, "index.html"))
		if err == nil && info.IsDir() {
			f.Close()
			err = fs.ErrNotExist
		}
	}
	if err != nil {
		if !errors.Is(err, fs.ErrNotExist) {
			slog.Warn("静的ファイルを開けません",
				slog.String("file", name),
				slog.String("error", err.Error()),
			)
		}
		http.NotFound(w, r)
		return
	}
	defer f.Close()

	http.ServeContent(w, r, info.Name(), info.ModTime(), f)
}

// open はroot内のファイルを開く。
// os.OpenInRootによりシンボリックリンクを含めてrootの外には出ない。
func (s *StaticServer) open(name string) (*os.File, fs.FileInfo, error) {
	f, err := os.OpenInRoot(s.root, name)
	if err != nil {
		return nil, nil, err
	}
	info, err := f.Stat()
	if err != nil {
		f.Close()
		return nil, nil, err
	}
	return f, info, nil
}
