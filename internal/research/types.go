package research

import (
	"bytes"
	"encoding/json"
	"strings"
)

// Result is what a research query found: the subject (a film, show, game or
// campaign) and the music placed in it.
type Result struct {
	Subject  string      `json:"subject"`
	Type     string      `json:"type"`
	Year     Text        `json:"year"`
	ImageURL string      `json:"imageUrl"`
	Results  []Placement `json:"results"`
	Sources  []Source    `json:"sources,omitempty"`
}

// Placement is one track used in the subject.
type Placement struct {
	Title       string `json:"title"`
	Artist      string `json:"artist"`
	BPM         Text   `json:"bpm"`
	Genre       string `json:"genre"`
	Description string `json:"description"`
	Timestamp   string `json:"timestamp"`
}

// Source is a web page the answer was grounded on.
type Source struct {
	Title string `json:"title"`
	URI   string `json:"uri"`
}

// Text is a JSON string that the model sometimes emits as a number.
type Text string

// UnmarshalJSON accepts a string, a number or null.
func (t *Text) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*t = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*t = Text(strings.TrimSpace(s))
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*t = Text(n.String())
	return nil
}

// generateRequest is the generateContent request body.
type generateRequest struct {
	Contents []content `json:"contents"`
	Tools    []tool    `json:"tools,omitempty"`
}

type content struct {
	Role  string `json:"role,omitempty"`
	Parts []part `json:"parts"`
}

type part struct {
	Text string `json:"text,omitempty"`
}

type tool struct {
	GoogleSearch *struct{} `json:"google_search,omitempty"`
}

type generateResponse struct {
	Candidates []struct {
		Content           content `json:"content"`
		FinishReason      string  `json:"finishReason"`
		GroundingMetadata struct {
			GroundingChunks []struct {
				Web struct {
					URI   string `json:"uri"`
					Title string `json:"title"`
				} `json:"web"`
			} `json:"groundingChunks"`
		} `json:"groundingMetadata"`
	} `json:"candidates"`
	PromptFeedback struct {
		BlockReason string `json:"blockReason"`
	} `json:"promptFeedback"`
}

type apiError struct {
	Error struct {
		Code    int    `json:"code"`
		Message string `json:"message"`
		Status  string `json:"status"`
	} `json:"error"`
}
