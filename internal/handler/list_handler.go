package handler

import (
	"fmt"
	"io"
	"net/http"
	"strings"
	"text/tabwriter"

	"flarebin/internal/domain"
)

// List печатает таблицу всех неистёкших файлов
func (h *FileHandler) List(w http.ResponseWriter, r *http.Request) {
	entries, err := h.files.ListFiles(r.Context())
	if err != nil {
		writeError(w, r, err, "")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	writeTable(w, publicBaseURL(r, h.opts.BaseURL), entries)
}

func writeTable(w io.Writer, base string, entries []domain.FileEntry) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "FILE ID\tFILENAME\tSIZE\tEXPIRE AT (UTC)\tURL")

	for _, entry := range entries {
		expireAt := "Never"
		if entry.Summary.ExpireAt != domain.NeverExpires {
			expireAt = formatExpireAt(entry.Summary.ExpireAt)
		}
		fmt.Fprintf(tw, "%s\t%s\t%d\t%s\t%s\n",
			entry.ID,
			entry.Summary.Filename,
			entry.Summary.Size,
			expireAt,
			fileURL(base, entry.ID, entry.Summary.AccessToken),
		)
	}
	tw.Flush()
}

const usageTemplate = `
>>> Flare Bin Usage <<<

# Upload a file

curl -X POST -F 'a=@<filename>' -u ':<token>' '{base}/'
curl -T <filename> -u ':<token>' '{base}/'

Optional query parameters (or X-File-ID, X-TTL, X-Token, X-Filename headers):
- id: Specify a file ID for the link. Random IDs by default.
- ttl: Expiration TTL in seconds; 0 means never expiring. {ttl} by default.
- token: Token required to download the file. None by default.
- filename: Filename shown when downloading. The raw filename by default.

# Upload a large file in parts

curl -X POST -u ':<token>' '{base}/multipart/start?filename=<filename>'
curl -X POST --data-binary @<part> -u ':<token>' '{base}/multipart?key=<key>&uploadId=<uploadId>&partNumber=1'
curl -X POST -d '{"parts":[{"partNumber":1,"etag":"<etag>"}]}' -u ':<token>' '{base}/multipart/complete?key=<key>&uploadId=<uploadId>'

# List files

curl -u ':<token>' '{base}/list'

# Delete a file

curl -X DELETE -u ':<token>' '{base}/<file_id>'
`

// Usage отдаёт справку по использованию через curl
func (h *FileHandler) Usage(w http.ResponseWriter, r *http.Request) {
	ttl := "never expiring"
	if h.opts.DefaultTTL > 0 {
		ttl = fmt.Sprintf("%d seconds", h.opts.DefaultTTL)
	}

	usage := strings.NewReplacer(
		"{base}", publicBaseURL(r, h.opts.BaseURL),
		"{ttl}", ttl,
	).Replace(strings.TrimSpace(usageTemplate))

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	io.WriteString(w, usage+"\n")
}
