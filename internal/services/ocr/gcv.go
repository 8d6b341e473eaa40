package ocr

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"log/slog"
	"strings"

	vision "cloud.google.com/go/vision/apiv1"
	"cloud.google.com/go/vision/v2/apiv1/visionpb"
	"github.com/lehigh-university-libraries/htr-prep/internal/utils"
)

// LabelReader reads the printed text in a small image region.
type LabelReader interface {
	ReadLabel(ctx context.Context, img image.Image) (string, error)
}

type Service struct {
	useCloudVision bool
}

func New(useCloudVision bool) *Service {
	if useCloudVision {
		slog.Info("Initializing Google Cloud Vision label reader")
	} else {
		slog.Info("Initializing Tesseract label reader")
	}
	return &Service{useCloudVision: useCloudVision}
}

// ReadLabel returns the recognized text with whitespace collapsed.
func (s *Service) ReadLabel(ctx context.Context, img image.Image) (string, error) {
	data, err := utils.EncodePNG(img)
	if err != nil {
		return "", err
	}

	var text string
	if s.useCloudVision {
		text, err = readWithCloudVision(ctx, data)
	} else {
		text, err = readWithTesseract(ctx, data)
	}
	if err != nil {
		return "", err
	}
	return NormalizeLabel(text), nil
}

func (s *Service) GetDetectionMethod() string {
	if s.useCloudVision {
		return "google_cloud_vision"
	}
	return "tesseract"
}

func NormalizeLabel(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

func readWithCloudVision(ctx context.Context, data []byte) (string, error) {
	client, err := vision.NewImageAnnotatorClient(ctx)
	if err != nil {
		return "", fmt.Errorf("failed to create vision client: %w", err)
	}
	defer client.Close()

	img, err := vision.NewImageFromReader(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("failed to read image: %w", err)
	}

	annotation, err := client.DetectDocumentText(ctx, img, nil)
	if err != nil {
		return "", fmt.Errorf("document text detection failed: %w", err)
	}

	return annotationText(annotation), nil
}

// annotationText rebuilds the text of a document annotation from its
// symbols, honoring the detected breaks between them.
func annotationText(annotation *visionpb.TextAnnotation) string {
	if annotation == nil {
		return ""
	}

	var sb strings.Builder
	for _, page := range annotation.Pages {
		for _, block := range page.Blocks {
			for _, paragraph := range block.Paragraphs {
				for _, word := range paragraph.Words {
					for _, symbol := range word.Symbols {
						sb.WriteString(symbol.Text)
						if symbol.Property == nil || symbol.Property.DetectedBreak == nil {
							continue
						}
						switch symbol.Property.DetectedBreak.Type {
						case visionpb.TextAnnotation_DetectedBreak_SPACE,
							visionpb.TextAnnotation_DetectedBreak_SURE_SPACE,
							visionpb.TextAnnotation_DetectedBreak_EOL_SURE_SPACE,
							visionpb.TextAnnotation_DetectedBreak_LINE_BREAK:
							sb.WriteString(" ")
						}
					}
				}
			}
		}
	}
	return sb.String()
}
