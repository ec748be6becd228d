package category

// Extension lists per bucket. Existing download folders were sorted with
// exactly these lists, so entries are kept verbatim, including the
// mixed-case compressed ones that a lower-cased lookup can never hit.
//
//nolint:gochecknoglobals // fixed reference data
var (
	audioExtensions = []string{
		"act", "aiff", "aac", "amr", "ape", "au", "awb", "dct", "dss", "dvf", "flac", "gsm",
		"iklax", "ivs", "m4a", "m4p", "mmf", "mp3", "mpc", "msv", "ogg", "oga", "opus", "ra",
		"raw", "sln", "tta", "vox", "wav", "wma", "wv",
	}

	videoExtensions = []string{
		"3g2", "3gp", "asf", "avi", "drc", "flv", "m4v", "mkv", "mng", "mov", "qt", "mp4", "m4p",
		"mpg", "mp2", "mpeg", "mpe", "mpv", "m2v", "mxf", "nsv", "ogv", "rmvb", "roq", "svi",
		"vob", "webm", "wmv", "yuv", "rm",
	}

	documentExtensions = []string{
		"doc", "docx", "html", "htm", "fb2", "odt", "sxw", "pdf", "ps", "rtf", "tex", "txt",
		"epub", "pub", "mobi", "azw", "azw3", "azw4", "kf8", "chm", "cbt", "cbr", "cbz", "cb7",
		"cba", "ibooks", "djvu", "md",
	}

	compressedExtensions = []string{
		"a", "ar", "cpio", "shar", "LBR", "iso", "lbr", "mar", "tar", "bz2", "F", "gz", "lz",
		"lzma", "lzo", "rz", "sfark", "sz", "xz", "Z", "z", "infl", "7z", "s7z", "ace", "afa",
		"alz", "apk", "arc", "arj", "b1", "ba", "bh", "cab", "cfs", "cpt", "dar", "dd", "dgc",
		"dmg", "ear", "gca", "ha", "hki", "ice", "jar", "kgb", "lzh", "lha", "lzx", "pac",
		"partimg", "paq6", "paq7", "paq8", "pea", "pim", "pit", "qda", "rar", "rk", "sda", "sea",
		"sen", "sfx", "sit", "sitx", "sqx", "tar.gz", "tgz", "tar.Z", "tar.bz2", "tbz2",
		"tar.lzma", "tlz", "uc", "uc0", "uc2", "ucn", "ur2", "ue2", "uca", "uha", "war", "wim",
		"xar", "xp3", "yz1", "zip", "zipx", "zoo", "zpaq", "zz", "ecc", "par", "par2",
	}
)

//nolint:gochecknoglobals // fixed reference data
var (
	lookupOrder = []Bucket{Audio, Video, Document, Compressed}

	tables = map[Bucket]map[string]bool{
		Audio:      toSet(audioExtensions),
		Video:      toSet(videoExtensions),
		Document:   toSet(documentExtensions),
		Compressed: toSet(compressedExtensions),
	}
)

// Extensions returns a copy of the extension list of a bucket. Other has none.
func Extensions(b Bucket) []string {
	var src []string
	switch b {
	case Audio:
		src = audioExtensions
	case Video:
		src = videoExtensions
	case Document:
		src = documentExtensions
	case Compressed:
		src = compressedExtensions
	default:
		return nil
	}
	out := make([]string, len(src))
	copy(out, src)
	return out
}

func toSet(list []string) map[string]bool {
	set := make(map[string]bool, len(list))
	for _, ext := range list {
		set[ext] = true
	}
	return set
}
