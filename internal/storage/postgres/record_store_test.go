package postgres

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/pashagolub/pgxmock/v4"
	"github.com/stretchr/testify/require"

	"github.com/clinassist/kbpipeline/internal/pipeline"
)

func TestPutRecordUpserts(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	rec := pipeline.CrawlRecord{
		Source:      "wikem",
		ID:          "Hyponatremia",
		Status:      pipeline.StatusIndexed,
		Fingerprint: "abc123",
		LastSuccess: now,
		Retries:     1,
		LastError:   "",
	}

	mock.ExpectExec("INSERT INTO crawl_records").
		WithArgs(rec.Source, rec.ID, "indexed", rec.Fingerprint, rec.LastSuccess, rec.Retries, rec.LastError).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))

	require.NoError(t, store.PutRecord(context.Background(), rec))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestGetRecordNotFound(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock)
	require.NoError(t, err)

	mock.ExpectQuery("SELECT source, doc_id, status").
		WithArgs("wikem", "Missing").
		WillReturnRows(pgxmock.NewRows([]string{
			"source", "doc_id", "status", "fingerprint", "last_success", "retries", "last_error",
		}))

	_, err = store.GetRecord(context.Background(), "wikem", "Missing")
	require.ErrorIs(t, err, pipeline.ErrNotFound)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestListRecordsScansRows(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock)
	require.NoError(t, err)

	now := time.Unix(1700000000, 0).UTC()
	mock.ExpectQuery("SELECT source, doc_id, status").
		WithArgs("wikem", "failed").
		WillReturnRows(pgxmock.NewRows([]string{
			"source", "doc_id", "status", "fingerprint", "last_success", "retries", "last_error",
		}).AddRow("wikem", "Sepsis", "failed", "", now, 3, "status 503"))

	records, err := store.ListRecords(context.Background(), "wikem", pipeline.StatusFailed)
	require.NoError(t, err)
	require.Len(t, records, 1)
	require.Equal(t, "Sepsis", records[0].ID)
	require.Equal(t, pipeline.StatusFailed, records[0].Status)
	require.Equal(t, "status 503", records[0].LastError)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestDocumentRoundTripsThroughJSONB(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock)
	require.NoError(t, err)

	doc := pipeline.NormalizedDocument{
		Source: "wikem",
		ID:     "Hyponatremia",
		Title:  "Hyponatremia",
		Sections: []pipeline.Section{
			{Heading: "Background", Level: 2, Order: 0, Text: "Serum sodium below 135 mEq/L."},
		},
		Fingerprint: "abc123",
		ExtractedAt: time.Unix(1700000000, 0).UTC(),
	}
	body, err := json.Marshal(doc)
	require.NoError(t, err)

	mock.ExpectExec("INSERT INTO documents").
		WithArgs(doc.Source, doc.ID, body, doc.ExtractedAt).
		WillReturnResult(pgxmock.NewResult("INSERT", 1))
	mock.ExpectQuery("SELECT body FROM documents").
		WithArgs(doc.Source, doc.ID).
		WillReturnRows(pgxmock.NewRows([]string{"body"}).AddRow(body))

	require.NoError(t, store.PutDocument(context.Background(), doc))

	got, err := store.GetDocument(context.Background(), doc.Source, doc.ID)
	require.NoError(t, err)
	require.Equal(t, doc, got)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestEntriesInsertAndDelete(t *testing.T) {
	t.Parallel()

	mock, err := pgxmock.NewPool()
	require.NoError(t, err)
	defer mock.Close()

	store, err := NewRecordStoreWithPool(mock)
	require.NoError(t, err)

	entries := []pipeline.IndexEntry{
		{Source: "wikem", DocID: "Hyponatremia", Ordinal: 0, Ref: "r0", Heading: "Background", Start: 0, End: 900, Fingerprint: "abc"},
		{Source: "wikem", DocID: "Hyponatremia", Ordinal: 1, Ref: "r1", Heading: "Treatment", Start: 700, End: 1500, Fingerprint: "abc"},
	}
	for _, e := range entries {
		mock.ExpectExec("INSERT INTO index_entries").
			WithArgs(e.Source, e.DocID, e.Ordinal, e.Ref, e.Heading, e.Start, e.End, e.Fingerprint).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))
	}
	mock.ExpectExec("DELETE FROM index_entries").
		WithArgs("wikem", "Hyponatremia").
		WillReturnResult(pgxmock.NewResult("DELETE", 2))

	require.NoError(t, store.PutEntries(context.Background(), entries))
	require.NoError(t, store.DeleteEntries(context.Background(), "wikem", "Hyponatremia"))
	require.NoError(t, mock.ExpectationsWereMet())
}
