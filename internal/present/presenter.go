// Package present decides how a timeline item's media is rendered. Given a
// media descriptor it derives a canonical kind and one of a small set of
// presentation states with their retry affordances.
package present

import (
	"path/filepath"
	"strings"

	"github.com/communityhub/telegram-bridge/internal/timeline"
)

// Kind is the canonical media kind.
type Kind string

const (
	KindPhoto     Kind = "photo"
	KindVideo     Kind = "video"
	KindVideoNote Kind = "video_note"
	KindAudio     Kind = "audio"
	KindVoice     Kind = "voice"
	KindDocument  Kind = "document"
)

// State is the presentation state of a media descriptor.
type State string

const (
	// StatePending shows a spinner placeholder with a manual refresh.
	StatePending State = "pending"
	// StateErrorNoFile shows an error indicator with a manual retry.
	StateErrorNoFile State = "error_no_file"
	// StateUnavailable is a neutral placeholder for legacy records with no
	// recoverable reference. Never offers retry: retrying cannot succeed.
	StateUnavailable State = "unavailable"
	// StateReady renders the media per kind from its direct URL.
	StateReady State = "ready"
	// StateCanEnrich shows a processing placeholder: no URL yet, but
	// mirroring is scheduled and will very likely resolve on its own.
	StateCanEnrich State = "can_enrich"
)

// Render selects the per-kind interaction mode for ready media.
type Render string

const (
	RenderNone          Render = ""
	RenderInlineImage   Render = "inline_image"
	RenderVideoPlayer   Render = "video_player"
	RenderCircularLoop  Render = "circular_loop"
	RenderAudioPlayer   Render = "audio_player"
	RenderDocumentLinks Render = "document_links"
	RenderPDFViewer     Render = "pdf_viewer"
)

// View is the rendering decision for one media descriptor.
type View struct {
	State        State  `json:"state"`
	Kind         Kind   `json:"kind"`
	URL          string `json:"url,omitempty"`
	Render       Render `json:"render,omitempty"`
	OfferRetry   bool   `json:"offerRetry,omitempty"`
	OfferRefresh bool   `json:"offerRefresh,omitempty"`
	ErrorCode    string `json:"errorCode,omitempty"`
}

var extensionKinds = map[string]Kind{
	".jpg":  KindPhoto,
	".jpeg": KindPhoto,
	".png":  KindPhoto,
	".gif":  KindPhoto,
	".webp": KindPhoto,
	".mp4":  KindVideo,
	".webm": KindVideo,
	".mov":  KindVideo,
	".mp3":  KindAudio,
	".m4a":  KindAudio,
	".ogg":  KindVoice,
	".oga":  KindVoice,
	".pdf":  KindDocument,
	".doc":  KindDocument,
	".docx": KindDocument,
	".xls":  KindDocument,
	".xlsx": KindDocument,
	".txt":  KindDocument,
	".zip":  KindDocument,
}

var canonicalKinds = map[string]Kind{
	"photo":      KindPhoto,
	"video":      KindVideo,
	"video_note": KindVideoNote,
	"audio":      KindAudio,
	"voice":      KindVoice,
	"document":   KindDocument,
}

// DeriveKind resolves the canonical kind of a descriptor. Historical records
// were written by different pipeline versions with inconsistent tagging, so
// the derivation runs in steps: canonical kind, mime prefix, file-name
// extension, then the raw stored kind as-is.
func DeriveKind(m *timeline.MediaDescriptor) Kind {
	if m == nil {
		return ""
	}
	if k, ok := canonicalKinds[m.Kind]; ok {
		return k
	}

	switch {
	case strings.HasPrefix(m.MimeType, "image/"):
		return KindPhoto
	case strings.HasPrefix(m.MimeType, "video/"):
		return KindVideo
	case strings.HasPrefix(m.MimeType, "audio/"):
		return KindAudio
	case m.MimeType == "application/pdf":
		return KindDocument
	}

	if k, ok := extensionKinds[strings.ToLower(filepath.Ext(m.FileName))]; ok {
		return k
	}

	return Kind(m.Kind)
}

// Resolve decides the presentation state for a media descriptor.
func Resolve(m *timeline.MediaDescriptor) View {
	if m == nil {
		return View{}
	}

	kind := DeriveKind(m)

	switch {
	case m.Resolved():
		return View{
			State:  StateReady,
			Kind:   kind,
			URL:    m.DirectURL,
			Render: renderFor(kind, m),
		}

	case m.UploadStatus == timeline.UploadError:
		return View{
			State:      StateErrorNoFile,
			Kind:       kind,
			OfferRetry: true,
			ErrorCode:  m.UploadError,
		}

	case m.UploadStatus == timeline.UploadUnavailable:
		return View{State: StateUnavailable, Kind: kind}

	case m.HasStorageRef():
		return View{
			State:        StateCanEnrich,
			Kind:         kind,
			OfferRefresh: true,
		}

	case m.UploadStatus == timeline.UploadPending:
		return View{
			State:        StatePending,
			Kind:         kind,
			OfferRefresh: true,
		}

	default:
		// Legacy record with no provider-side reference at all.
		return View{State: StateUnavailable, Kind: kind}
	}
}

func renderFor(kind Kind, m *timeline.MediaDescriptor) Render {
	switch kind {
	case KindPhoto:
		return RenderInlineImage
	case KindVideo:
		return RenderVideoPlayer
	case KindVideoNote:
		return RenderCircularLoop
	case KindAudio, KindVoice:
		return RenderAudioPlayer
	case KindDocument:
		if m.MimeType == "application/pdf" || strings.EqualFold(filepath.Ext(m.FileName), ".pdf") {
			return RenderPDFViewer
		}
		return RenderDocumentLinks
	default:
		return RenderNone
	}
}
