package deps

import (
	"regexp"
	"strings"

	"contractlab/internal/build/model"
	appErr "contractlab/pkg/errors"
)

// Source schemes.
const (
	SchemeGit     = "git"
	SchemeArchive = "archive"
)

const githubBaseURL = "https://github.com/"

var (
	depName   = regexp.MustCompile(`^[A-Za-z0-9_@][A-Za-z0-9_.@-]*$`)
	repoPath  = regexp.MustCompile(`^[A-Za-z0-9_.-]+/[A-Za-z0-9_.-]+$`)
	sha256Hex = regexp.MustCompile(`^[0-9a-fA-F]{64}$`)
)

// Source is a parsed dependency location.
type Source struct {
	Scheme   string
	Location string
	SHA256   string
}

// ParseSource understands github:<org>/<repo>, git:<url>, archive:<key>[#sha256=<hex>],
// plain https URLs and bare <org>/<repo>.
func ParseSource(raw string) (Source, error) {
	raw = strings.TrimSpace(raw)
	scheme, rest, hasScheme := strings.Cut(raw, ":")
	switch {
	case raw == "":
		return Source{}, appErr.New(appErr.DependencySourceInvalid).WithMessage("dependency source is required")
	case hasScheme && scheme == "github":
		if !repoPath.MatchString(rest) {
			return Source{}, appErr.Newf(appErr.DependencySourceInvalid, "invalid github repo %q", rest)
		}
		return Source{Scheme: SchemeGit, Location: githubBaseURL + strings.TrimSuffix(rest, ".git") + ".git"}, nil
	case hasScheme && scheme == "git":
		rest = strings.TrimSpace(rest)
		if rest == "" {
			return Source{}, appErr.New(appErr.DependencySourceInvalid).WithMessage("git url is required")
		}
		if strings.HasPrefix(rest, "-") {
			return Source{}, appErr.Newf(appErr.DependencySourceInvalid, "git url %q must not start with '-'", rest)
		}
		return Source{Scheme: SchemeGit, Location: rest}, nil
	case hasScheme && (scheme == "https" || scheme == "http"):
		return Source{Scheme: SchemeGit, Location: raw}, nil
	case hasScheme && scheme == SchemeArchive:
		return parseArchive(rest)
	case !hasScheme && repoPath.MatchString(raw):
		return Source{Scheme: SchemeGit, Location: githubBaseURL + strings.TrimSuffix(raw, ".git") + ".git"}, nil
	}
	return Source{}, appErr.Newf(appErr.DependencySourceInvalid, "unsupported dependency source %q", raw)
}

func parseArchive(rest string) (Source, error) {
	key, fragment, _ := strings.Cut(rest, "#")
	key = strings.TrimPrefix(strings.TrimSpace(key), "/")
	if key == "" {
		return Source{}, appErr.New(appErr.DependencySourceInvalid).WithMessage("archive object key is required")
	}
	src := Source{Scheme: SchemeArchive, Location: key}
	if fragment != "" {
		algo, sum, ok := strings.Cut(fragment, "=")
		if !ok || algo != "sha256" || !sha256Hex.MatchString(sum) {
			return Source{}, appErr.Newf(appErr.DependencySourceInvalid, "invalid archive checksum %q", fragment)
		}
		src.SHA256 = strings.ToLower(sum)
	}
	return src, nil
}

// ValidateName rejects names that cannot be a single directory under lib/.
func ValidateName(name string) error {
	if !depName.MatchString(name) || strings.Contains(name, "..") {
		return appErr.Newf(appErr.DependencySourceInvalid, "invalid dependency name %q", name)
	}
	return nil
}

// DefaultDependencies is installed into every new workspace.
func DefaultDependencies() []model.Dependency {
	return []model.Dependency{
		{Name: "forge-std", Version: "v1.9.4", Source: "github:foundry-rs/forge-std"},
		{Name: "openzeppelin-contracts", Version: "v5.0.2", Source: "github:OpenZeppelin/openzeppelin-contracts"},
	}
}
