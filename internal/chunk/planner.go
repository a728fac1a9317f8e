// Пакет chunk — разбиение больших файлов на чанки, загрузка чанков
// в Blob Backend с записью метаданных и обратная сборка файла из чанков.
package chunk

import "fmt"

// Range — диапазон байтов одного чанка: [Start, End).
type Range struct {
	Index int
	Start int64
	End   int64
}

// Size возвращает длину диапазона.
func (r Range) Size() int64 {
	return r.End - r.Start
}

// Count возвращает количество чанков: ceil(fileSize / chunkSize).
// Аргументы должны быть проверены вызывающим кодом.
func Count(fileSize, chunkSize int64) int {
	if fileSize <= 0 {
		return 0
	}
	return int((fileSize + chunkSize - 1) / chunkSize)
}

// Plan вычисляет упорядоченные диапазоны чанков, покрывающие [0, fileSize).
// Диапазоны смежные и не пересекаются, последний может быть короче chunkSize.
// Для fileSize == 0 план пуст.
func Plan(fileSize, chunkSize int64) ([]Range, error) {
	if chunkSize <= 0 {
		return nil, fmt.Errorf("%w: размер чанка должен быть > 0, получено %d", ErrInvalidInput, chunkSize)
	}
	if fileSize < 0 {
		return nil, fmt.Errorf("%w: размер файла не может быть отрицательным, получено %d", ErrInvalidInput, fileSize)
	}

	n := Count(fileSize, chunkSize)
	ranges := make([]Range, 0, n)
	for i := 0; i < n; i++ {
		start := int64(i) * chunkSize
		end := min(start+chunkSize, fileSize)
		ranges = append(ranges, Range{Index: i, Start: start, End: end})
	}
	return ranges, nil
}
