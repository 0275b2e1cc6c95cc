package present

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/communityhub/telegram-bridge/internal/timeline"
)

func TestDeriveKind(t *testing.T) {
	tests := []struct {
		name  string
		media timeline.MediaDescriptor
		want  Kind
	}{
		{"canonical kind wins", timeline.MediaDescriptor{Kind: "video_note", MimeType: "application/octet-stream"}, KindVideoNote},
		{"mime image prefix", timeline.MediaDescriptor{Kind: "attachment", MimeType: "image/png"}, KindPhoto},
		{"mime video prefix", timeline.MediaDescriptor{MimeType: "video/webm"}, KindVideo},
		{"mime audio prefix", timeline.MediaDescriptor{MimeType: "audio/ogg"}, KindAudio},
		{"pdf mime", timeline.MediaDescriptor{MimeType: "application/pdf"}, KindDocument},
		{"extension fallback", timeline.MediaDescriptor{FileName: "IMG_1234.JPG"}, KindPhoto},
		{"voice extension", timeline.MediaDescriptor{FileName: "note.oga"}, KindVoice},
		{"document extension", timeline.MediaDescriptor{FileName: "report.xlsx"}, KindDocument},
		{"raw kind passthrough", timeline.MediaDescriptor{Kind: "sticker"}, Kind("sticker")},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m := tt.media
			assert.Equal(t, tt.want, DeriveKind(&m))
		})
	}

	assert.Equal(t, Kind(""), DeriveKind(nil))
}

func TestResolve_DecisionOrder(t *testing.T) {
	t.Run("resolved url always wins", func(t *testing.T) {
		v := Resolve(&timeline.MediaDescriptor{
			Kind:         "photo",
			DirectURL:    "https://cdn.example.com/p.jpg",
			UploadStatus: timeline.UploadError,
			UploadError:  "stale error from an earlier attempt",
		})
		assert.Equal(t, StateReady, v.State)
		assert.Equal(t, "https://cdn.example.com/p.jpg", v.URL)
		assert.Equal(t, RenderInlineImage, v.Render)
		assert.False(t, v.OfferRetry)
	})

	t.Run("upload error offers retry", func(t *testing.T) {
		v := Resolve(&timeline.MediaDescriptor{
			Kind:         "photo",
			UploadStatus: timeline.UploadError,
			UploadError:  "FILE_TOO_BIG",
		})
		assert.Equal(t, StateErrorNoFile, v.State)
		assert.True(t, v.OfferRetry)
		assert.False(t, v.OfferRefresh)
		assert.Equal(t, "FILE_TOO_BIG", v.ErrorCode)
	})

	t.Run("unavailable never offers retry", func(t *testing.T) {
		v := Resolve(&timeline.MediaDescriptor{
			Kind:         "photo",
			UploadStatus: timeline.UploadUnavailable,
		})
		assert.Equal(t, StateUnavailable, v.State)
		assert.False(t, v.OfferRetry)
		assert.False(t, v.OfferRefresh)
	})

	t.Run("storage ref without url can enrich", func(t *testing.T) {
		v := Resolve(&timeline.MediaDescriptor{
			Kind:   "video",
			Bucket: "media",
			Path:   "chats/1/v.mp4",
		})
		assert.Equal(t, StateCanEnrich, v.State)
		assert.True(t, v.OfferRefresh)
		assert.False(t, v.OfferRetry)
	})

	t.Run("storage ref beats pending status", func(t *testing.T) {
		// A scheduled mirror stays can_enrich across identical polls; it
		// never flickers back to the plain pending spinner.
		m := timeline.MediaDescriptor{
			Kind:         "photo",
			Bucket:       "media",
			Path:         "chats/1/p.jpg",
			UploadStatus: timeline.UploadPending,
		}
		assert.Equal(t, StateCanEnrich, Resolve(&m).State)
		assert.Equal(t, StateCanEnrich, Resolve(&m).State)
	})

	t.Run("pending without storage ref", func(t *testing.T) {
		v := Resolve(&timeline.MediaDescriptor{
			Kind:         "photo",
			UploadStatus: timeline.UploadPending,
		})
		assert.Equal(t, StatePending, v.State)
		assert.True(t, v.OfferRefresh)
	})

	t.Run("legacy record with nothing", func(t *testing.T) {
		v := Resolve(&timeline.MediaDescriptor{Kind: "photo"})
		assert.Equal(t, StateUnavailable, v.State)
		assert.False(t, v.OfferRetry)
	})

	t.Run("nil media", func(t *testing.T) {
		assert.Equal(t, View{}, Resolve(nil))
	})
}

func TestResolve_RenderModes(t *testing.T) {
	ready := func(m timeline.MediaDescriptor) View {
		m.DirectURL = "https://cdn.example.com/x"
		return Resolve(&m)
	}

	assert.Equal(t, RenderInlineImage, ready(timeline.MediaDescriptor{Kind: "photo"}).Render)
	assert.Equal(t, RenderVideoPlayer, ready(timeline.MediaDescriptor{Kind: "video"}).Render)
	assert.Equal(t, RenderCircularLoop, ready(timeline.MediaDescriptor{Kind: "video_note"}).Render)
	assert.Equal(t, RenderAudioPlayer, ready(timeline.MediaDescriptor{Kind: "audio"}).Render)
	assert.Equal(t, RenderAudioPlayer, ready(timeline.MediaDescriptor{Kind: "voice"}).Render)
	assert.Equal(t, RenderDocumentLinks, ready(timeline.MediaDescriptor{Kind: "document", FileName: "a.docx"}).Render)
	assert.Equal(t, RenderPDFViewer, ready(timeline.MediaDescriptor{Kind: "document", MimeType: "application/pdf"}).Render)
	assert.Equal(t, RenderPDFViewer, ready(timeline.MediaDescriptor{Kind: "document", FileName: "Invoice.PDF"}).Render)
}
