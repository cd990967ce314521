package gptj

import "fmt"

// FileType describes how the bulk of the weights in a model file are stored.
type FileType int32

const (
	FileTypeF32         FileType = 0
	FileTypeMostlyF16   FileType = 1
	FileTypeMostlyQ4_0  FileType = 2
	FileTypeMostlyQ4_1  FileType = 3
	FileTypeQ4_1SomeF16 FileType = 4
	FileTypeMostlyQ8_0  FileType = 7
	FileTypeMostlyQ5_0  FileType = 8
	FileTypeMostlyQ5_1  FileType = 9
)

var fileTypeNames = map[FileType]string{
	FileTypeF32:         "f32",
	FileTypeMostlyF16:   "f16",
	FileTypeMostlyQ4_0:  "q4_0",
	FileTypeMostlyQ4_1:  "q4_1",
	FileTypeQ4_1SomeF16: "q4_1_some_f16",
	FileTypeMostlyQ8_0:  "q8_0",
	FileTypeMostlyQ5_0:  "q5_0",
	FileTypeMostlyQ5_1:  "q5_1",
}

// ParseFileType maps an on-disk code to a FileType.
func ParseFileType(code int32) (FileType, error) {
	ft := FileType(code)
	if _, ok := fileTypeNames[ft]; !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnsupportedFileType, code)
	}
	return ft, nil
}

func (f FileType) String() string {
	if name, ok := fileTypeNames[f]; ok {
		return name
	}
	return fmt.Sprintf("file_type(%d)", int32(f))
}
