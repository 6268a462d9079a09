// Package classifier submits captured images to the remote demographic
// classifier and maps its answer onto demographics.Record.
package classifier

import (
	"context"
	"encoding/json"
	"strings"
	"time"
	"unicode"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/example/skin-analysis/internal/codec"
	"github.com/example/skin-analysis/internal/confidence"
	"github.com/example/skin-analysis/internal/demographics"
)

// DefaultImageField is the request key the endpoint documents.
const DefaultImageField = "Image"

// Submitter is what the pipeline needs from a classifier.
type Submitter interface {
	Submit(ctx context.Context, img codec.EncodedImage) (*demographics.Record, error)
}

// Client maps images to records over a Transport. It never retries.
type Client struct {
	transport  Transport
	normalizer *confidence.Normalizer
	imageField string
	now        func() time.Time
	logger     *zap.Logger
}

// NewClient builds a classifier client. An empty imageField uses DefaultImageField.
func NewClient(transport Transport, normalizer *confidence.Normalizer, imageField string, logger *zap.Logger) *Client {
	if imageField == "" {
		imageField = DefaultImageField
	}
	return &Client{
		transport:  transport,
		normalizer: normalizer,
		imageField: imageField,
		now:        time.Now,
		logger:     logger.Named("classifier"),
	}
}

// Submit sends img and parses the prediction.
func (c *Client) Submit(ctx context.Context, img codec.EncodedImage) (*demographics.Record, error) {
	body, err := c.transport.Send(ctx, Request{ImageField: c.imageField, Image: img.Payload})
	if err != nil {
		return nil, err
	}

	rec, err := c.Parse(body)
	if err != nil {
		c.logger.Debug("classifier response rejected", zap.Error(err))
		return nil, err
	}
	return rec, nil
}

type envelope struct {
	Data json.RawMessage `json:"data"`
}

type prediction struct {
	Race   *confidence.Weights `json:"race"`
	Age    *confidence.Weights `json:"age"`
	Gender *gender             `json:"gender"`
}

type gender struct {
	Male   *float64 `json:"male"`
	Female *float64 `json:"female"`
}

// Parse maps a success body of the form
// {"data":{"race":{...},"age":{...},"gender":{"male":x,"female":y}}}.
func (c *Client) Parse(body []byte) (*demographics.Record, error) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		return nil, &ShapeError{Reason: "body is not a JSON object", Body: string(body), Err: err}
	}
	if len(env.Data) == 0 || string(env.Data) == "null" {
		return nil, &ShapeError{Reason: "no prediction", Missing: []string{"data"}, Body: string(body)}
	}

	var pred prediction
	if err := json.Unmarshal(env.Data, &pred); err != nil {
		return nil, &ShapeError{Reason: "prediction has the wrong types", Body: string(body), Err: err}
	}

	var missing []string
	if pred.Race == nil {
		missing = append(missing, "race")
	}
	if pred.Age == nil {
		missing = append(missing, "age")
	}
	switch {
	case pred.Gender == nil:
		missing = append(missing, "gender")
	default:
		if pred.Gender.Male == nil {
			missing = append(missing, "gender.male")
		}
		if pred.Gender.Female == nil {
			missing = append(missing, "gender.female")
		}
	}
	if len(missing) > 0 {
		return nil, &ShapeError{Reason: "incomplete prediction", Missing: missing, Body: string(body)}
	}

	races := make(confidence.Weights, len(*pred.Race))
	for i, w := range *pred.Race {
		races[i] = confidence.Weight{Label: capitalizeWords(w.Label), Value: w.Value}
	}
	raceConfidences, err := c.normalizer.Normalize(races)
	if err != nil {
		return nil, &ShapeError{Reason: "race distribution unusable", Body: string(body), Err: err}
	}

	topAge, ok := pred.Age.Top()
	if !ok {
		return nil, &ShapeError{Reason: "age distribution is empty", Body: string(body)}
	}

	sex := demographics.SexFemale
	if *pred.Gender.Male > *pred.Gender.Female {
		sex = demographics.SexMale
	}

	rec := demographics.NewRecord(raceConfidences, topAge.Label, sex, demographics.SourceAPI, c.now())
	rec.RawAPIData = append(json.RawMessage(nil), env.Data...)
	return rec, nil
}

func capitalizeWords(s string) string {
	words := strings.Split(s, " ")
	for i, word := range words {
		r, size := utf8.DecodeRuneInString(word)
		if r == utf8.RuneError {
			continue
		}
		words[i] = string(unicode.ToUpper(r)) + word[size:]
	}
	return strings.Join(words, " ")
}
