package mediatypes

// Kind identifies which conversion pipeline handles a file.
type Kind string

const (
	// KindImage is handled by the image pipeline.
	KindImage Kind = "image"
	// KindText is handled by the text pipeline.
	KindText Kind = "text"
	// KindVideo is handled by the video pipeline.
	KindVideo Kind = "video"
)

// Kinds lists every pipeline kind in dispatch order. Classification tries
// image before text before video, matching the order of the type blocks.
var Kinds = []Kind{KindImage, KindText, KindVideo}

// ImageExtensions maps file extensions to whether they are indexed as images.
var ImageExtensions = map[string]bool{
	".jpg":  true,
	".jpeg": true,
	".png":  true,
	".gif":  true,
	".bmp":  true,
	".webp": true,
	".tiff": true,
	".tif":  true,
}

// TextExtensions maps file extensions to whether they are indexed as text.
var TextExtensions = map[string]bool{
	".txt":      true,
	".md":       true,
	".markdown": true,
	".rst":      true,
	".text":     true,
}

// VideoExtensions maps file extensions to whether they are indexed as videos.
var VideoExtensions = map[string]bool{
	".mp4":  true,
	".mkv":  true,
	".avi":  true,
	".mov":  true,
	".wmv":  true,
	".flv":  true,
	".webm": true,
	".m4v":  true,
	".mpeg": true,
	".mpg":  true,
	".3gp":  true,
	".ts":   true,
}

// DefaultPattern returns the default glob pattern for a kind, used when a type
// block does not configure its own pattern.
func DefaultPattern(kind Kind) string {
	switch kind {
	case KindImage:
		return "**/*.{jpg,jpeg,png,gif,bmp,webp,tiff,tif}"
	case KindText:
		return "**/*.{txt,md,markdown,rst,text}"
	case KindVideo:
		return "**/*.{mp4,mkv,avi,mov,wmv,flv,webm,m4v,mpeg,mpg,3gp,ts}"
	default:
		return ""
	}
}

// KindForExtension returns the pipeline kind for a lowercase extension with
// leading dot, or "" when the extension is not recognized.
func KindForExtension(ext string) Kind {
	if ImageExtensions[ext] {
		return KindImage
	}
	if TextExtensions[ext] {
		return KindText
	}
	if VideoExtensions[ext] {
		return KindVideo
	}
	return ""
}

// Valid reports whether k names a known pipeline kind.
func (k Kind) Valid() bool {
	return k == KindImage || k == KindText || k == KindVideo
}
