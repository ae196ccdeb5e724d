package smtp

import (
	"bufio"
	"strings"
)

// acceptedCodes are the reply codes treated as success for every command
// after the greeting.
var acceptedCodes = map[string]bool{
	"250": true,
	"235": true,
	"334": true,
	"354": true,
}

// greetingCode is the only acceptable greeting.
const greetingCode = "220"

// maxReplyLine is the longest reply line accepted, CRLF included
// (RFC 5321 §4.5.3.1.5).
const maxReplyLine = 512

// Reply is one complete server reply. Multi-line replies use the
// "code-hyphen" continuation convention (RFC 5321 §4.2).
type Reply struct {
	Code  string
	Lines []string
	Raw   string
}

// readReply reads lines until the last line of a reply: one whose fourth
// byte is not '-'. On error the returned Reply carries what was read so far.
func readReply(r *bufio.Reader) (Reply, error) {
	var (
		raw   strings.Builder
		lines []string
	)
	for {
		line, err := readLine(r)
		raw.WriteString(line)
		if err != nil {
			return Reply{Lines: lines, Raw: raw.String()}, err
		}

		text := strings.TrimRight(line, "\r\n")
		lines = append(lines, text)
		if len(text) < 4 || text[3] != '-' {
			break
		}
	}

	reply := Reply{Lines: lines, Raw: raw.String()}
	reply.Code = responseCode(reply.Raw)
	return reply, nil
}

// readLine reads one line including its terminator. A line longer than
// maxReplyLine fails with ErrLineTooLong and only its first maxReplyLine
// bytes are returned.
func readLine(r *bufio.Reader) (string, error) {
	var line []byte
	for {
		chunk, err := r.ReadSlice('\n')
		line = append(line, chunk...)
		if len(line) > maxReplyLine {
			return string(line[:maxReplyLine]), ErrLineTooLong
		}
		if err != bufio.ErrBufferFull {
			return string(line), err
		}
	}
}

// responseCode returns the first three characters of a response, or the
// whole response when it is shorter.
func responseCode(response string) string {
	if len(response) < 3 {
		return response
	}
	return response[:3]
}

// checkResponse returns a ProtocolError unless the response code is in the
// accepted set.
func checkResponse(command, response string) error {
	if !acceptedCodes[responseCode(response)] {
		return &ProtocolError{
			Command:  command,
			Code:     responseCode(response),
			Response: response,
		}
	}
	return nil
}
