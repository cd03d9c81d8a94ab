package moderation

import (
	"bufio"
	"chat-relay/errors"
	"os"
	"strings"

	"github.com/samber/lo"
)

// LoadWords reads one forbidden word per line. Blank lines and lines starting
// with '#' are ignored, duplicates are removed.
func LoadWords(path string) ([]string, error) {
	file, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer file.Close()

	var words []string
	scanner := bufio.NewScanner(file)
	for scanner.Scan() {
		line := strings.TrimSpace(scanner.Text())
		if line == "" || strings.HasPrefix(line, "#") {
			continue
		}
		words = append(words, line)
	}
	if err := scanner.Err(); err != nil {
		return nil, err
	}
	if len(words) == 0 {
		return nil, errors.ErrEmptyWords
	}
	return lo.Uniq(words), nil
}
