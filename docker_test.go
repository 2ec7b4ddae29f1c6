package trackergate_test

import (
	"os"
	"strings"
	"testing"
)

func readFile(t *testing.T, name string) string {
	t.Helper()
	data, err := os.ReadFile(name)
	if err != nil {
		t.Fatalf("failed to read %s: %v", name, err)
	}
	return string(data)
}

func TestDockerfileMultiStageBuild(t *testing.T) {
	content := readFile(t, "Dockerfile")

	// マルチステージビルドの確認: ビルドステージと実行ステージが存在すること
	if !strings.Contains(content, "FROM golang:") {
		t.Error("Dockerfile should contain a Go builder stage (FROM golang:)")
	}

	// 最終ステージは軽量イメージであること
	var lastFrom string
	for _, line := range strings.Split(content, "\n") {
		trimmed := strings.TrimSpace(line)
		if strings.HasPrefix(trimmed, "FROM ") {
			lastFrom = trimmed
		}
	}
	if !strings.Contains(lastFrom, "gcr.io/distroless") {
		t.Errorf("final stage should use a distroless image, got: %s", lastFrom)
	}
}

func TestDockerfileBuildsTrackergate(t *testing.T) {
	content := readFile(t, "Dockerfile")

	if !strings.Contains(content, "./cmd/trackergate") {
		t.Error("Dockerfile should build ./cmd/trackergate")
	}
	if !strings.Contains(content, `ENTRYPOINT ["/app/trackergate"]`) {
		t.Error("Dockerfile should use the trackergate binary as ENTRYPOINT")
	}
}

// TestDockerfileResolvesModules はgo.sumがなくてもビルドできることを検証する。
func TestDockerfileResolvesModules(t *testing.T) {
	content := readFile(t, "Dockerfile")

	if strings.Contains(content, "COPY go.mod go.sum ./") {
		t.Error("Dockerfile should not require go.sum to exist")
	}
	if !strings.Contains(content, "go mod tidy") {
		t.Error("Dockerfile should resolve go.sum with go mod tidy before building")
	}
}

func TestDockerfileHealthcheck(t *testing.T) {
	content := readFile(t, "Dockerfile")

	// distrolessにはcurlがないため、バイナリのhealthcheckサブコマンドを使う
	if !strings.Contains(content, `CMD ["/app/trackergate", "healthcheck"]`) {
		t.Error("Dockerfile HEALTHCHECK should run the healthcheck subcommand")
	}
}

func TestDockerComposeServices(t *testing.T) {
	content := readFile(t, "docker-compose.yml")

	// 単一サービス構成(app)とプロキシ構成(proxy)
	for _, svc := range []string{"app:", "proxy:"} {
		if !strings.Contains(content, svc) {
			t.Errorf("docker-compose.yml should contain service %q", svc)
		}
	}
	for _, cmd := range []string{`command: ["serve"]`, `command: ["proxy"]`} {
		if !strings.Contains(content, cmd) {
			t.Errorf("docker-compose.yml should contain %q", cmd)
		}
	}
}

func TestDockerComposeProxyPointsAtApp(t *testing.T) {
	content := readFile(t, "docker-compose.yml")

	if !strings.Contains(content, "API_BASE_URL: http://app:3000") {
		t.Error("proxy service should relay API calls to the app service")
	}
}
