package ml

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"

	"cloud.google.com/go/vertexai/genai"
	"github.com/rs/zerolog"
	"google.golang.org/api/option"

	"github.com/franckalain/foodlens/internal/models"
)

const defaultGeminiModel = "gemini-1.5-flash"

// GoogleConfig holds configuration for the Google model
type GoogleConfig struct {
	BaseConfig
	ProjectID       string `json:"project_id"`
	Location        string `json:"location"`
	CredentialsFile string `json:"credentials_file"`
	ModelName       string `json:"model_name"`
}

// Load loads the Google configuration
func (c *GoogleConfig) Load(log zerolog.Logger) error {
	if err := c.LoadConfig("google", c, log); err != nil {
		return err
	}

	// Fall back to environment variables if not set
	if c.ProjectID == "" {
		c.ProjectID = os.Getenv("GOOGLE_PROJECT_ID")
	}
	if c.Location == "" {
		c.Location = os.Getenv("GOOGLE_LOCATION")
	}
	if c.CredentialsFile == "" {
		c.CredentialsFile = os.Getenv("GOOGLE_CREDENTIALS_FILE")
	}
	if c.ModelName == "" {
		c.ModelName = defaultGeminiModel
	}
	return nil
}

// GoogleModel implements the Model interface for Google's Vertex AI
type GoogleModel struct {
	config GoogleConfig
	client *genai.Client
	model  *genai.GenerativeModel
	log    zerolog.Logger
}

// GoogleModelFactory implements ModelFactory for Google models
type GoogleModelFactory struct {
	config GoogleConfig
	log    zerolog.Logger
}

// NewGoogleModelFactory creates a new Google model factory
func NewGoogleModelFactory(config GoogleConfig, log zerolog.Logger) *GoogleModelFactory {
	return &GoogleModelFactory{config: config, log: log}
}

// CreateModel creates a new Google model instance
func (f *GoogleModelFactory) CreateModel() (Model, error) {
	return &GoogleModel{config: f.config, log: f.log}, nil
}

// Load initializes the Google model
func (m *GoogleModel) Load(ctx context.Context) error {
	if m.config.ProjectID == "" || m.config.Location == "" {
		return fmt.Errorf("google model requires a project id and location")
	}
	opts := []option.ClientOption{}
	if m.config.CredentialsFile != "" {
		opts = append(opts, option.WithCredentialsFile(m.config.CredentialsFile))
	}

	client, err := genai.NewClient(ctx, m.config.ProjectID, m.config.Location, opts...)
	if err != nil {
		return fmt.Errorf("failed to create client: %w", err)
	}

	m.client = client
	m.model = client.GenerativeModel(m.config.ModelName)
	m.model.SetTemperature(0)
	m.log.Info().Str("model", m.config.ModelName).Msg("Vertex AI model ready")
	return nil
}

// Close releases the Vertex AI client.
func (m *GoogleModel) Close() error {
	if m.client == nil {
		return nil
	}
	return m.client.Close()
}

const foodPrompt = `Identify the single main dish in this photo and estimate its nutrition for one serving.
Respond with one JSON object and nothing else, in exactly this shape:
{
	"label": "snake_case_dish_name",
	"confidence": number between 0 and 1,
	"nutrition": {
		"protein": grams,
		"karbohidrat": grams of carbohydrate,
		"lemak": grams of fat,
		"kalori": kcal
	},
	"nutrition_status": "Seimbang" if the macros are balanced, otherwise "Tidak Seimbang"
}
If the photo shows no food, respond with {"error": "short reason"} instead.`

// Predict asks Gemini to classify the dish and answers in the same envelope
// the hosted service uses.
func (m *GoogleModel) Predict(ctx context.Context, req *PredictRequest) (*models.PredictionEnvelope, error) {
	if m.model == nil {
		return nil, ErrNotLoaded
	}
	mimeType := strings.TrimPrefix(req.MIMEType, "image/")
	if mimeType == "" {
		mimeType = "jpeg"
	}

	m.log.Debug().Int("bytes", len(req.Image)).Msg("Calling the model")
	resp, err := m.model.GenerateContent(ctx, genai.Text(foodPrompt), genai.ImageData(mimeType, req.Image))
	if err != nil {
		return nil, fmt.Errorf("failed to call ai: %w", err)
	}
	if len(resp.Candidates) == 0 || resp.Candidates[0].Content == nil || len(resp.Candidates[0].Content.Parts) == 0 {
		return nil, fmt.Errorf("no response generated")
	}

	var text strings.Builder
	for _, part := range resp.Candidates[0].Content.Parts {
		if t, ok := part.(genai.Text); ok {
			text.WriteString(string(t))
		}
	}
	return parseGeminiResponse(text.String())
}

// parseGeminiResponse accepts the model's JSON, with or without a fenced
// code block around it.
func parseGeminiResponse(text string) (*models.PredictionEnvelope, error) {
	text = strings.TrimSpace(text)
	text = strings.TrimPrefix(text, "```json")
	text = strings.TrimPrefix(text, "```")
	text = strings.TrimSuffix(text, "```")
	text = strings.TrimSpace(text)

	var output struct {
		Error string `json:"error"`
		models.Prediction
	}
	if err := json.Unmarshal([]byte(text), &output); err != nil {
		return nil, fmt.Errorf("failed to parse model response: %w while parsing %s", err, text)
	}
	if output.Error != "" {
		return nil, fmt.Errorf("model could not analyze image: %s", output.Error)
	}
	if output.Label == "" {
		return nil, fmt.Errorf("missing required field 'label' in response")
	}

	prediction := output.Prediction
	return &models.PredictionEnvelope{Status: "success", Prediction: &prediction}, nil
}
