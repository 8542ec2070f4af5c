package resolve

import (
	"context"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/apex/log"
	"github.com/binary-install/torfetch/pkg/release"
	"github.com/pkg/errors"
	"golang.org/x/net/html"
)

// DefaultRepositoryURL is the Tor Browser release index
const DefaultRepositoryURL = "https://dist.torproject.org/torbrowser/"

// ChecksumsFilename is the signed checksum list published with each release
const ChecksumsFilename = "sha256sums-signed-build.txt"

// versionRegexp matches the release directory links of the index page
var versionRegexp = regexp.MustCompile(`^(\d{1,3}\.\d{1,3}[a.]?\d{0,3})/?$`)

// ErrNoVersion is matched by every ResolutionError
var ErrNoVersion = errors.New("no version found")

// ResolutionError reports that the index lists no version of a branch
type ResolutionError struct {
	Branch release.Branch
	URL    string
}

func (e *ResolutionError) Error() string {
	return fmt.Sprintf("no latest %q version found on the repository %s", e.Branch, e.URL)
}

func (e *ResolutionError) Is(target error) bool {
	return target == ErrNoVersion
}

// TextFetcher downloads a URL as text
type TextFetcher interface {
	FetchText(ctx context.Context, url string) (string, error)
}

// Repository resolves versions and artifact URLs against a release index
type Repository struct {
	baseURL string
	fetcher TextFetcher
}

// Option configures a Repository
type Option func(*Repository)

// WithBaseURL overrides the index URL
func WithBaseURL(baseURL string) Option {
	return func(r *Repository) {
		if baseURL != "" {
			r.baseURL = baseURL
		}
	}
}

// NewRepository creates a repository client reading the index through fetcher
func NewRepository(fetcher TextFetcher, opts ...Option) *Repository {
	r := &Repository{
		baseURL: DefaultRepositoryURL,
		fetcher: fetcher,
	}
	for _, opt := range opts {
		opt(r)
	}
	if !strings.HasSuffix(r.baseURL, "/") {
		r.baseURL += "/"
	}
	return r
}

// BaseURL returns the index URL, always ending with a slash
func (r *Repository) BaseURL() string {
	return r.baseURL
}

// LatestVersion returns the newest version of branch listed on the index.
// Candidates are ordered by release.Version.SortKey.
func (r *Repository) LatestVersion(ctx context.Context, branch release.Branch) (release.Version, error) {
	log.WithFields(log.Fields{"branch": branch, "url": r.baseURL}).Info("checking repository for latest version")

	page, err := r.fetcher.FetchText(ctx, r.baseURL)
	if err != nil {
		return "", errors.Wrap(err, "failed to fetch release index")
	}

	versions, err := ParseIndex(page)
	if err != nil {
		return "", err
	}

	type candidate struct {
		version release.Version
		key     int64
	}
	var candidates []candidate
	for _, v := range versions {
		if !branch.Accepts(v) {
			continue
		}
		key, err := v.SortKey()
		if err != nil {
			log.WithError(err).Debugf("ignoring version %s", v)
			continue
		}
		candidates = append(candidates, candidate{version: v, key: key})
	}

	if len(candidates) == 0 {
		return "", &ResolutionError{Branch: branch, URL: r.baseURL}
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		return candidates[i].key < candidates[j].key
	})
	latest := candidates[len(candidates)-1].version

	log.Debugf("latest %s version: %s", branch, latest)
	return latest, nil
}

// ParseIndex returns the versions linked from an index page, in page order
func ParseIndex(page string) ([]release.Version, error) {
	doc, err := html.Parse(strings.NewReader(page))
	if err != nil {
		return nil, errors.Wrap(err, "failed to parse release index")
	}

	var versions []release.Version
	var visit func(n *html.Node)
	visit = func(n *html.Node) {
		if n.Type == html.ElementNode && n.Data == "a" {
			if v, ok := versionFromHref(hrefOf(n)); ok {
				versions = append(versions, v)
			}
		}
		for c := n.FirstChild; c != nil; c = c.NextSibling {
			visit(c)
		}
	}
	visit(doc)

	return versions, nil
}

func hrefOf(n *html.Node) string {
	for _, attr := range n.Attr {
		if attr.Key == "href" {
			return attr.Val
		}
	}
	return ""
}

func versionFromHref(href string) (release.Version, bool) {
	m := versionRegexp.FindStringSubmatch(strings.TrimPrefix(href, "/"))
	if m == nil {
		return "", false
	}
	return release.Version(m[1]), true
}

// ReleaseDirectoryURL returns the directory holding every artifact of version
func (r *Repository) ReleaseDirectoryURL(version release.Version) string {
	return r.baseURL + string(version) + "/"
}

// ReleaseURL returns the download URL of rel's MAR bundle
func (r *Repository) ReleaseURL(rel *release.Release) (string, error) {
	filename, err := rel.BundleFilename()
	if err != nil {
		return "", err
	}
	return r.ReleaseDirectoryURL(rel.Version) + filename, nil
}

// ToolURL returns the download URL of the mar-tools archive of toolRel,
// which is usually obtained from release.Release.ToolRelease
func (r *Repository) ToolURL(toolRel *release.Release) (string, error) {
	filename, err := toolRel.ToolFilename()
	if err != nil {
		return "", err
	}
	return r.ReleaseDirectoryURL(toolRel.Version) + filename, nil
}

// SignatureURL returns the URL of the detached signature of rel's bundle
func (r *Repository) SignatureURL(rel *release.Release) (string, error) {
	u, err := r.ReleaseURL(rel)
	if err != nil {
		return "", err
	}
	return u + ".asc", nil
}

// ChecksumsURL returns the URL of the checksum list of version
func (r *Repository) ChecksumsURL(version release.Version) string {
	return r.ReleaseDirectoryURL(version) + ChecksumsFilename
}
