package main

import (
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"os"
	"path/filepath"

	"github.com/charmbracelet/lipgloss"
	"github.com/dustin/go-humanize"
	"github.com/franckalain/freshness/internal/models"
	"github.com/franckalain/freshness/internal/notice"
	"github.com/franckalain/freshness/internal/upload"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
)

var (
	freshStyle  = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("10"))
	rottenStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("9"))
	labelStyle  = lipgloss.NewStyle().Faint(true).Width(12)
)

var detectCmd = &cobra.Command{
	Use:   "detect <image>",
	Short: "Classify one image as fresh or rotten",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		img, err := readImage(args[0])
		if err != nil {
			return err
		}

		model, err := loadModel(cmd.Context())
		if err != nil {
			return err
		}

		board := notice.NewBoard(cfg.Notices.TTL.Duration, func(ev notice.Event) {
			if ev.Type == notice.EventPosted {
				logger.Debug("notice", zap.String("kind", string(ev.Notice.Kind)), zap.String("text", ev.Notice.Text))
			}
		})
		lc := upload.New(model, board,
			upload.WithLogger(logger),
			upload.WithMaxBytes(cfg.Upload.MaxBytes),
			upload.WithContext(cmd.Context()),
		)
		defer lc.Close()

		return runDetection(cmd.OutOrStdout(), lc, img)
	},
}

// runDetection drives the lifecycle through select, upload and detect
func runDetection(w io.Writer, lc *upload.Lifecycle, img models.SelectedImage) error {
	if err := lc.SelectFile(img); err != nil {
		var verr *upload.ValidationError
		if errors.As(err, &verr) {
			return errors.New(verr.Message)
		}
		return err
	}
	if err := lc.ConfirmUpload(); err != nil {
		return err
	}
	if err := lc.StartDetection(); err != nil {
		return err
	}
	lc.Wait()

	st := lc.State()
	if st.Result == nil {
		if n, ok := lc.Notices().Current(models.NoticeError); ok {
			return errors.New(n.Text)
		}
		return fmt.Errorf("detection did not complete")
	}
	printResult(w, st.Selection, st.Result)
	return nil
}

func printResult(w io.Writer, img *models.SelectedImage, res *models.DetectionResult) {
	verdict := rottenStyle.Render(res.Icon() + " " + res.Prediction)
	if res.Fresh() {
		verdict = freshStyle.Render(res.Icon() + " " + res.Prediction)
	}

	fmt.Fprintln(w, res.Summary())
	fmt.Fprintln(w)
	fmt.Fprintln(w, labelStyle.Render("Food item")+res.FoodItem)
	fmt.Fprintln(w, labelStyle.Render("Status")+verdict)
	fmt.Fprintln(w, labelStyle.Render("Confidence")+res.Confidence)
	if img != nil {
		fmt.Fprintln(w, labelStyle.Render("File")+img.Name+" ("+humanize.IBytes(uint64(img.Size))+")")
	}
}

// readImage loads a file and guesses its media type from the extension,
// falling back to content sniffing
func readImage(path string) (models.SelectedImage, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return models.SelectedImage{}, fmt.Errorf("failed to read image: %w", err)
	}

	mediaType := mime.TypeByExtension(filepath.Ext(path))
	if mediaType == "" {
		mediaType = http.DetectContentType(data)
	}
	if base, _, err := mime.ParseMediaType(mediaType); err == nil {
		mediaType = base
	}

	return models.SelectedImage{
		Name:      filepath.Base(path),
		MediaType: mediaType,
		Size:      int64(len(data)),
		Data:      data,
	}, nil
}
