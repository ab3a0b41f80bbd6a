package service

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"strings"
)

// CodeVerifier 校验菲号二维码签名，返回去掉签名后的内容
type CodeVerifier interface {
	Verify(scanCode string) (string, error)
}

const signatureLength = 32

// HMACVerifier 二维码格式 "<内容>.<签名>"，签名为 HMAC-SHA256 前16字节的十六进制
type HMACVerifier struct {
	secret   []byte
	required bool
}

// NewHMACVerifier secret 为空时不校验；required 为 true 时拒绝未签名的二维码
func NewHMACVerifier(secret string, required bool) *HMACVerifier {
	return &HMACVerifier{secret: []byte(secret), required: required}
}

func (v *HMACVerifier) mac(payload string) string {
	h := hmac.New(sha256.New, v.secret)
	h.Write([]byte(payload))
	return hex.EncodeToString(h.Sum(nil))[:signatureLength]
}

// Sign 生成带签名的二维码内容
func (v *HMACVerifier) Sign(payload string) string {
	if len(v.secret) == 0 {
		return payload
	}
	return payload + "." + v.mac(payload)
}

func (v *HMACVerifier) Verify(scanCode string) (string, error) {
	code := strings.TrimSpace(scanCode)
	if code == "" {
		return "", errValidation("扫码内容不能为空")
	}
	if len(v.secret) == 0 {
		return code, nil
	}

	payload, sig, signed := splitSignature(code)
	if !signed {
		if v.required {
			return "", newError(KindValidation, ReasonInvalidSignature, "二维码未签名")
		}
		// 旧版未签名二维码
		return code, nil
	}
	if !hmac.Equal([]byte(strings.ToLower(sig)), []byte(v.mac(payload))) {
		return "", newError(KindValidation, ReasonInvalidSignature, "二维码签名无效")
	}
	return payload, nil
}

// splitSignature 最后一个 "." 之后是32位十六进制时视为签名
func splitSignature(code string) (string, string, bool) {
	i := strings.LastIndex(code, ".")
	if i <= 0 || len(code)-i-1 != signatureLength {
		return code, "", false
	}
	sig := code[i+1:]
	if _, err := hex.DecodeString(sig); err != nil {
		return code, "", false
	}
	return code[:i], sig, true
}
