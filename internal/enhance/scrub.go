package enhance

import "github.com/fyrsmithlabs/nudged/internal/secrets"

// outbound runs the built-in rules only; gitleaks is too slow to sit in
// front of every model call.
var outbound = mustScrubber()

func mustScrubber() *secrets.Scrubber {
	s, err := secrets.New(secrets.Config{Enabled: true})
	if err != nil {
		panic(err)
	}
	return s
}

// scrubSecrets removes credentials from captured content before it leaves
// the machine. Clipboard and screen captures routinely contain them.
func scrubSecrets(content string) string {
	return outbound.Scrub(content).Content
}
