package results

import (
	"errors"
	"fmt"
	"net/netip"
	"strings"

	"golang.org/x/text/unicode/norm"
)

// ErrInvalidURL is returned by SplitURL for strings that cannot be split.
var ErrInvalidURL = errors.New("invalid URL")

// URLParts are the five generic components of a URL. Path parameters are not kept.
type URLParts struct {
	Scheme   string
	Netloc   string
	Path     string
	Query    string
	Fragment string
}

const schemeChars = "abcdefghijklmnopqrstuvwxyzABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789+-."

// paramSchemes carry ;params on the last path segment.
var paramSchemes = map[string]bool{
	"": true, "ftp": true, "hdl": true, "prospero": true, "http": true, "imap": true,
	"https": true, "shttp": true, "rtsp": true, "rtspu": true, "sip": true, "sips": true,
	"mms": true, "sftp": true, "tel": true,
}

// SplitURL splits raw into scheme, netloc, path, query and fragment following the generic
// RFC 3986 layout with the lenient rules of common URL splitters: leading control characters
// and spaces are dropped, tabs and newlines removed anywhere, the scheme lowercased, and no
// component is validated except the netloc's IPv6 brackets and its normalization. For schemes
// that use them, ;params of the last path segment are cut from the path and dropped.
func SplitURL(raw string) (URLParts, error) {
	url := strings.TrimLeftFunc(raw, func(r rune) bool { return r <= ' ' })
	url = strings.NewReplacer("\t", "", "\r", "", "\n", "").Replace(url)

	var parts URLParts
	if i := strings.IndexByte(url, ':'); i > 0 && isASCIILetter(url[0]) && strings.Trim(url[:i], schemeChars) == "" {
		parts.Scheme, url = strings.ToLower(url[:i]), url[i+1:]
	}

	if strings.HasPrefix(url, "//") {
		end := len(url)
		if i := strings.IndexAny(url[2:], "/?#"); i >= 0 {
			end = i + 2
		}
		parts.Netloc, url = url[2:end], url[end:]
		if err := checkBrackets(parts.Netloc); err != nil {
			return URLParts{}, err
		}
	}
	if i := strings.IndexByte(url, '#'); i >= 0 {
		url, parts.Fragment = url[:i], url[i+1:]
	}
	if i := strings.IndexByte(url, '?'); i >= 0 {
		url, parts.Query = url[:i], url[i+1:]
	}
	parts.Path = url
	if paramSchemes[parts.Scheme] {
		parts.Path = stripParams(parts.Path)
	}

	if err := checkNormalization(parts.Netloc); err != nil {
		return URLParts{}, err
	}
	return parts, nil
}

func stripParams(path string) string {
	last := strings.LastIndexByte(path, '/') + 1
	if i := strings.IndexByte(path[last:], ';'); i >= 0 {
		return path[:last+i]
	}
	return path
}

func isASCIILetter(c byte) bool {
	return ('a' <= c && c <= 'z') || ('A' <= c && c <= 'Z')
}

func checkBrackets(netloc string) error {
	open, close := strings.Contains(netloc, "["), strings.Contains(netloc, "]")
	if open != close {
		return fmt.Errorf("%w: unbalanced IPv6 brackets in %q", ErrInvalidURL, netloc)
	}
	if !open {
		return nil
	}
	host := netloc[strings.LastIndex(netloc, "@")+1:]
	start, end := strings.Index(host, "["), strings.Index(host, "]")
	if start < 0 || end < start {
		return fmt.Errorf("%w: malformed bracketed host in %q", ErrInvalidURL, netloc)
	}
	bracketed := host[start+1 : end]
	if strings.HasPrefix(bracketed, "v") || strings.HasPrefix(bracketed, "V") {
		return nil
	}
	addr, err := netip.ParseAddr(bracketed)
	if err != nil || !addr.Is6() {
		return fmt.Errorf("%w: %q is not an IPv6 address", ErrInvalidURL, bracketed)
	}
	return nil
}

// checkNormalization rejects non-ASCII netlocs whose NFKC form introduces URL delimiters.
func checkNormalization(netloc string) error {
	ascii := true
	for i := 0; i < len(netloc); i++ {
		if netloc[i] >= 0x80 {
			ascii = false
			break
		}
	}
	if ascii {
		return nil
	}
	n := strings.NewReplacer("@", "", ":", "", "#", "", "?", "").Replace(netloc)
	normalized := norm.NFKC.String(n)
	if n == normalized {
		return nil
	}
	if strings.ContainsAny(normalized, "/?#@:") {
		return fmt.Errorf("%w: netloc %q contains invalid characters under NFKC normalization", ErrInvalidURL, netloc)
	}
	return nil
}
