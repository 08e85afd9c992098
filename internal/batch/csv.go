package batch

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"time"
)

// exportCSV renders b's papers into the RFC-4180 artifact and saves it
// under b.TaskDirectory, returning the resulting path.
func (o *Organizer) exportCSV(b *Batch) (string, error) {
	b.mu.Lock()
	items := append([]*PaperItem(nil), b.Items...)
	translationEnabled := b.Options.Translation.Enabled
	classificationEnabled := b.Options.Classification.Enabled
	taskDirectory := b.TaskDirectory
	batchID := b.ID
	b.mu.Unlock()

	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	w.UseCRLF = false

	header := []string{"Title", "Authors", "Original Abstract"}
	if translationEnabled {
		header = append(header, "Translated Abstract")
	}
	header = append(header, "All Versions URL", "PDF URL")
	if classificationEnabled {
		header = append(header, "Category")
	}
	if err := w.Write(header); err != nil {
		return "", fmt.Errorf("write csv header: %w", err)
	}

	for _, item := range items {
		row := []string{item.Paper.Title, item.Paper.Authors, item.ProcessedData.OriginalAbstract}
		if translationEnabled {
			row = append(row, item.ProcessedData.TranslatedAbstract)
		}
		row = append(row, item.Paper.AllVersionsURL, item.Paper.PDFURL)
		if classificationEnabled {
			row = append(row, item.ProcessedData.Classification)
		}
		if err := w.Write(row); err != nil {
			return "", fmt.Errorf("write csv row for %s: %w", item.Paper.ID, err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", fmt.Errorf("flush csv: %w", err)
	}

	fileName := fmt.Sprintf("batch_%s_%s.csv", batchID, time.Now().Format("2006-01-02"))
	return o.storage.SaveCSVFile(taskDirectory, fileName, buf.Bytes())
}
