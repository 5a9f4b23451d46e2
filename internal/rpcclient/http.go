package rpcclient

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"github.com/AdguardTeam/golibs/log"
)

// chunkHeader is the small JSON control structure that precedes raw chunk
// bytes on a downloadChunk response: a JSON header line followed by the
// raw chunk payload.
type chunkHeader struct {
	Valid       bool  `json:"valid"`
	Exists      bool  `json:"exists"`
	Version     int   `json:"version"`
	TotalSize   int64 `json:"total_size"`
	ChunkNumber int   `json:"chunk_number"`
	IsLast      bool  `json:"is_last"`
	StatusCode  int   `json:"status_code"`
	DataLen     int   `json:"data_len"`
}

type statResponse struct {
	Exists  bool `json:"exists"`
	IsDir   bool `json:"is_dir"`
	Version int  `json:"version"`
}

type deleteResponse struct {
	OK bool `json:"ok"`
}

// HTTPClient is the net/http realization of Client, speaking the fixed
// four-endpoint surface (GET and POST /chunk, GET /stat, DELETE /file)
// against a single upstream file server with a
// plain net/http.Client (no retry/backoff wrapper).
type HTTPClient struct {
	BaseURL string
	HC      *http.Client
}

// NewHTTPClient returns an HTTPClient targeting baseURL (e.g.
// "http://localhost:9000"). A nil http.Client defaults to http.DefaultClient.
func NewHTTPClient(baseURL string, hc *http.Client) *HTTPClient {
	if hc == nil {
		hc = http.DefaultClient
	}
	return &HTTPClient{BaseURL: baseURL, HC: hc}
}

func (c *HTTPClient) DownloadChunk(logical string, chunkNum int, openOption int, isProbe bool) (ChunkResponse, error) {
	q := url.Values{}
	q.Set("path", logical)
	q.Set("chunk", strconv.Itoa(chunkNum))
	q.Set("option", strconv.Itoa(openOption))
	if isProbe {
		q.Set("probe", "1")
	}

	resp, err := c.HC.Get(c.BaseURL + "/chunk?" + q.Encode())
	if err != nil {
		return ChunkResponse{}, fmt.Errorf("rpcclient: downloadChunk %s: %w", logical, err)
	}
	defer resp.Body.Close()

	var hdr chunkHeader
	dec := json.NewDecoder(resp.Body)
	if err := dec.Decode(&hdr); err != nil {
		return ChunkResponse{}, fmt.Errorf("rpcclient: downloadChunk %s: decode header: %w", logical, err)
	}

	// json.Decoder reads ahead of the token it just decoded; whatever it
	// already buffered must be prepended to the rest of the body before the
	// raw chunk bytes can be read out in order.
	rest := io.MultiReader(dec.Buffered(), resp.Body)
	data := make([]byte, hdr.DataLen)
	if hdr.DataLen > 0 {
		n, err := io.ReadFull(rest, data)
		if err != nil && err != io.ErrUnexpectedEOF {
			return ChunkResponse{}, fmt.Errorf("rpcclient: downloadChunk %s: read data: %w", logical, err)
		}
		data = data[:n]
	}

	log.Debug("rpcclient: downloadChunk %s chunk=%d probe=%v -> status=%d last=%v", logical, chunkNum, isProbe, hdr.StatusCode, hdr.IsLast)

	return ChunkResponse{
		Valid:       hdr.Valid,
		Exists:      hdr.Exists,
		Version:     hdr.Version,
		TotalSize:   hdr.TotalSize,
		ChunkNumber: hdr.ChunkNumber,
		IsLast:      hdr.IsLast,
		Data:        data,
		StatusCode:  hdr.StatusCode,
	}, nil
}

func (c *HTTPClient) UploadChunk(logical string, data []byte, version, chunkNum int, isLast bool) error {
	q := url.Values{}
	q.Set("path", logical)
	q.Set("version", strconv.Itoa(version))
	q.Set("chunk", strconv.Itoa(chunkNum))
	if isLast {
		q.Set("last", "1")
	}

	req, err := http.NewRequest(http.MethodPost, c.BaseURL+"/chunk?"+q.Encode(), bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("rpcclient: uploadChunk %s: %w", logical, err)
	}
	resp, err := c.HC.Do(req)
	if err != nil {
		return fmt.Errorf("rpcclient: uploadChunk %s: %w", logical, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return fmt.Errorf("rpcclient: uploadChunk %s: server status %d", logical, resp.StatusCode)
	}
	log.Debug("rpcclient: uploadChunk %s chunk=%d last=%v (%d bytes)", logical, chunkNum, isLast, len(data))
	return nil
}

func (c *HTTPClient) stat(logical string) (statResponse, error) {
	q := url.Values{}
	q.Set("path", logical)
	resp, err := c.HC.Get(c.BaseURL + "/stat?" + q.Encode())
	if err != nil {
		return statResponse{}, fmt.Errorf("rpcclient: stat %s: %w", logical, err)
	}
	defer resp.Body.Close()
	var sr statResponse
	if err := json.NewDecoder(resp.Body).Decode(&sr); err != nil {
		return statResponse{}, fmt.Errorf("rpcclient: stat %s: decode: %w", logical, err)
	}
	return sr, nil
}

func (c *HTTPClient) StatExists(logical string) (bool, error) {
	sr, err := c.stat(logical)
	if err != nil {
		return false, err
	}
	return sr.Exists, nil
}

func (c *HTTPClient) StatIsDir(logical string) (bool, error) {
	sr, err := c.stat(logical)
	if err != nil {
		return false, err
	}
	return sr.IsDir, nil
}

func (c *HTTPClient) StatVersion(logical string) (int, error) {
	sr, err := c.stat(logical)
	if err != nil {
		return 0, err
	}
	if !sr.Exists {
		return -1, nil
	}
	return sr.Version, nil
}

func (c *HTTPClient) Delete(logical string) (bool, error) {
	q := url.Values{}
	q.Set("path", logical)
	req, err := http.NewRequest(http.MethodDelete, c.BaseURL+"/file?"+q.Encode(), nil)
	if err != nil {
		return false, fmt.Errorf("rpcclient: delete %s: %w", logical, err)
	}
	resp, err := c.HC.Do(req)
	if err != nil {
		return false, fmt.Errorf("rpcclient: delete %s: %w", logical, err)
	}
	defer resp.Body.Close()
	var dr deleteResponse
	if err := json.NewDecoder(resp.Body).Decode(&dr); err != nil {
		return false, fmt.Errorf("rpcclient: delete %s: decode: %w", logical, err)
	}
	log.Debug("rpcclient: delete %s -> %v", logical, dr.OK)
	return dr.OK, nil
}
